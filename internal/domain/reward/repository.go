package reward

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/craftzone/craftzone-api/internal/domain/ledger"
	"github.com/craftzone/craftzone-api/internal/pkg/database"
)

type Repository struct {
	runner *database.TxRunner
	ledger *ledger.Repository
}

func NewRepository(runner *database.TxRunner, ledgerRepo *ledger.Repository) *Repository {
	return &Repository{runner: runner, ledger: ledgerRepo}
}

type queryer interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

func findApplication(ctx context.Context, q queryer, referredID, referrerID uuid.UUID) (*Application, error) {
	var a Application
	err := q.GetContext(ctx, &a, `
		SELECT id, referred_user_id, referrer_id, code_used, network_addr, reward, applied_at
		FROM referral_applications
		WHERE referred_user_id = $1 AND referrer_id = $2
	`, referredID, referrerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find referral application: %w", err)
	}
	return &a, nil
}

// FindApplication returns the pair's application, or nil.
func (r *Repository) FindApplication(ctx context.Context, referredID, referrerID uuid.UUID) (*Application, error) {
	return findApplication(ctx, r.runner.DB(), referredID, referrerID)
}

// ApplyReferral records the application, credits both users and bumps the
// referrer's counter in one transaction. Both user rows are locked in id
// order so concurrent referrals between the same pair cannot deadlock.
// If the pair is already recorded it returns the stored application with
// ErrApplicationExists and writes nothing.
func (r *Repository) ApplyReferral(ctx context.Context, g Grant) (GrantResult, error) {
	var out GrantResult
	err := r.runner.WithTx(ctx, func(tx *sqlx.Tx) error {
		out = GrantResult{}

		first, second := g.ReferredUserID, g.ReferrerID
		if bytes.Compare(first[:], second[:]) > 0 {
			first, second = second, first
		}
		for _, id := range []uuid.UUID{first, second} {
			if _, err := r.ledger.LockBalanceTx(ctx, tx, id); err != nil {
				if errors.Is(err, ledger.ErrUserNotFound) {
					return ErrUserNotFound
				}
				return err
			}
		}

		existing, err := findApplication(ctx, tx, g.ReferredUserID, g.ReferrerID)
		if err != nil {
			return err
		}
		if existing != nil {
			out.Application = *existing
			return ErrApplicationExists
		}

		app := Application{
			ID:             uuid.New(),
			ReferredUserID: g.ReferredUserID,
			ReferrerID:     g.ReferrerID,
			CodeUsed:       g.Code,
			NetworkAddr:    g.NetworkAddr,
			Reward:         g.Reward,
		}
		err = tx.GetContext(ctx, &app.AppliedAt, `
			INSERT INTO referral_applications (id, referred_user_id, referrer_id, code_used, network_addr, reward)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING applied_at
		`, app.ID, app.ReferredUserID, app.ReferrerID, app.CodeUsed, app.NetworkAddr, app.Reward)
		if err != nil {
			return fmt.Errorf("insert referral application: %w", err)
		}
		out.Application = app

		if g.Reward > 0 {
			applied, err := r.ledger.ApplyTx(ctx, tx, ledger.Mutation{
				UserID:    g.ReferredUserID,
				Type:      ledger.EntryReferralApplied,
				Amount:    g.Reward,
				Reference: ledger.ReferralAppliedRef(g.ReferrerID),
			})
			if err != nil && !ledger.IsBenign(err) {
				return err
			}
			if !applied.Duplicate {
				out.Entries = append(out.Entries, applied.Entry)
			}
			out.ReferredBalance = applied.Balance

			bonus, err := r.ledger.ApplyTx(ctx, tx, ledger.Mutation{
				UserID:    g.ReferrerID,
				Type:      ledger.EntryReferralBonus,
				Amount:    g.Reward,
				Reference: ledger.ReferralBonusRef(g.ReferredUserID),
			})
			if err != nil && !ledger.IsBenign(err) {
				return err
			}
			if !bonus.Duplicate {
				out.Entries = append(out.Entries, bonus.Entry)
			}
		} else {
			if err := tx.GetContext(ctx, &out.ReferredBalance, `SELECT coin_balance FROM users WHERE id = $1`, g.ReferredUserID); err != nil {
				return fmt.Errorf("read balance: %w", err)
			}
		}

		_, err = tx.ExecContext(ctx, `UPDATE users SET referral_count = referral_count + 1, updated_at = now() WHERE id = $1`, g.ReferrerID)
		if err != nil {
			return fmt.Errorf("increment referral count: %w", err)
		}
		return nil
	})
	return out, err
}

// ListApplied returns the codes userID has redeemed, newest first.
func (r *Repository) ListApplied(ctx context.Context, userID uuid.UUID) ([]Application, error) {
	apps := []Application{}
	err := r.runner.DB().SelectContext(ctx, &apps, `
		SELECT id, referred_user_id, referrer_id, code_used, network_addr, reward, applied_at
		FROM referral_applications
		WHERE referred_user_id = $1
		ORDER BY applied_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list referral applications: %w", err)
	}
	return apps, nil
}

func (r *Repository) GetQuiz(ctx context.Context, id uuid.UUID) (*Quiz, error) {
	var q Quiz
	err := r.runner.DB().GetContext(ctx, &q, `
		SELECT id, title, coin_reward, pass_score, is_active, created_at FROM quizzes WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get quiz: %w", err)
	}
	return &q, nil
}
