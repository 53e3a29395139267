package withdrawal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/craftzone/craftzone-api/internal/domain/ledger"
	"github.com/craftzone/craftzone-api/internal/pkg/database"
)

const queryTimeout = 3 * time.Second

const columns = `id, user_id, amount, status, payout_method, payout_details, reject_reason,
	processed_at, processed_by, created_at`

type Repository struct {
	runner *database.TxRunner
	ledger *ledger.Repository
}

func NewRepository(runner *database.TxRunner, ledgerRepo *ledger.Repository) *Repository {
	return &Repository{runner: runner, ledger: ledgerRepo}
}

func lockWithdrawal(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*Withdrawal, error) {
	var w Withdrawal
	err := tx.GetContext(ctx, &w, `SELECT `+columns+` FROM withdrawals WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock withdrawal: %w", err)
	}
	return &w, nil
}

// Create debits w.Amount and records the pending request in one
// transaction.
func (r *Repository) Create(ctx context.Context, w *Withdrawal) (ledger.Result, error) {
	var res ledger.Result
	err := r.runner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		res, err = r.ledger.ApplyTx(ctx, tx, ledger.Mutation{
			UserID:    w.UserID,
			Type:      ledger.EntryWithdrawalRequest,
			Amount:    -w.Amount,
			Reference: ledger.WithdrawalRef(w.ID),
		})
		if err != nil {
			return err
		}

		return tx.GetContext(ctx, &w.CreatedAt, `
			INSERT INTO withdrawals (id, user_id, amount, status, payout_method, payout_details)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING created_at
		`, w.ID, w.UserID, w.Amount, string(StatusPending), w.PayoutMethod, w.PayoutDetails)
	})
	return res, err
}

// Resolve moves a pending withdrawal to approved or rejected. Rejection
// credits the amount back in the same transaction.
func (r *Repository) Resolve(ctx context.Context, id, adminID uuid.UUID, to Status, reason string) (Transition, error) {
	var out Transition
	err := r.runner.WithTx(ctx, func(tx *sqlx.Tx) error {
		out = Transition{}

		w, err := lockWithdrawal(ctx, tx, id)
		if err != nil {
			return err
		}
		if w.Status != StatusPending {
			return ErrAlreadyProcessed
		}

		if to == StatusRejected {
			res, err := r.ledger.ApplyTx(ctx, tx, ledger.Mutation{
				UserID:    w.UserID,
				Type:      ledger.EntryWithdrawalHoldRelease,
				Amount:    w.Amount,
				Reference: ledger.WithdrawalReleaseRef(w.ID),
				Note:      reason,
				ActorID:   &adminID,
			})
			if err != nil {
				return err
			}
			out.Entry = &res.Entry
			out.Balance = res.Balance
			w.RejectReason = &reason
		}

		now := time.Now().UTC()
		_, err = tx.ExecContext(ctx, `
			UPDATE withdrawals SET status = $1, processed_at = $2, processed_by = $3, reject_reason = $4
			WHERE id = $5
		`, string(to), now, adminID, w.RejectReason, w.ID)
		if err != nil {
			return fmt.Errorf("update withdrawal: %w", err)
		}
		w.Status = to
		w.ProcessedAt = &now
		w.ProcessedBy = &adminID

		out.Withdrawal = *w
		return nil
	})
	return out, err
}

// Cancel refunds and deletes userID's pending withdrawal.
func (r *Repository) Cancel(ctx context.Context, userID, id uuid.UUID) (Transition, error) {
	var out Transition
	err := r.runner.WithTx(ctx, func(tx *sqlx.Tx) error {
		out = Transition{}

		w, err := lockWithdrawal(ctx, tx, id)
		if err != nil {
			return err
		}
		if w.UserID != userID {
			return ErrNotFound
		}
		if w.Status != StatusPending {
			return ErrAlreadyProcessed
		}

		res, err := r.ledger.ApplyTx(ctx, tx, ledger.Mutation{
			UserID:    w.UserID,
			Type:      ledger.EntryWithdrawalHoldRelease,
			Amount:    w.Amount,
			Reference: ledger.WithdrawalCancelRef(w.ID),
		})
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM withdrawals WHERE id = $1`, w.ID); err != nil {
			return fmt.Errorf("delete withdrawal: %w", err)
		}

		out.Withdrawal = *w
		out.Entry = &res.Entry
		out.Balance = res.Balance
		return nil
	})
	return out, err
}

func (r *Repository) List(ctx context.Context, f Filter, limit, offset int) ([]Withdrawal, int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	db := r.runner.DB()
	where := `($1 = '' OR status = $1) AND ($2::uuid IS NULL OR user_id = $2)`

	var total int
	if err := db.GetContext(ctx, &total, `SELECT COUNT(*) FROM withdrawals WHERE `+where, string(f.Status), f.UserID); err != nil {
		return nil, 0, fmt.Errorf("count withdrawals: %w", err)
	}

	items := []Withdrawal{}
	err := db.SelectContext(ctx, &items, `
		SELECT `+columns+` FROM withdrawals
		WHERE `+where+`
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4
	`, string(f.Status), f.UserID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list withdrawals: %w", err)
	}
	return items, total, nil
}

func (r *Repository) CountPending(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var n int
	if err := r.runner.DB().GetContext(ctx, &n, `SELECT COUNT(*) FROM withdrawals WHERE status = 'pending'`); err != nil {
		return 0, fmt.Errorf("count pending withdrawals: %w", err)
	}
	return n, nil
}
