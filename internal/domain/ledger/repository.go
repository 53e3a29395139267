package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/craftzone/craftzone-api/internal/pkg/database"
)

const queryTimeout = 3 * time.Second

// Repository is the only code path that writes coin_balance.
type Repository struct {
	runner *database.TxRunner
}

func NewRepository(runner *database.TxRunner) *Repository {
	return &Repository{runner: runner}
}

// Validate checks a mutation before any row is touched.
func Validate(m Mutation) error {
	if !m.Type.Valid() {
		return ErrInvalidEntryType
	}
	if !m.Type.Accepts(m.Amount) {
		return ErrInvalidAmount
	}
	if m.Reference == "" {
		return ErrMissingReference
	}
	if m.UserID == uuid.Nil {
		return ErrUserNotFound
	}
	return nil
}

// LockBalanceTx locks the user's row for the rest of tx and returns the
// current balance.
func (r *Repository) LockBalanceTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (int64, error) {
	var balance int64
	err := tx.GetContext(ctx, &balance, `SELECT coin_balance FROM users WHERE id = $1 FOR UPDATE`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("lock balance: %w", err)
	}
	return balance, nil
}

func (r *Repository) findByReference(ctx context.Context, tx *sqlx.Tx, m Mutation) (*Entry, error) {
	var e Entry
	err := tx.GetContext(ctx, &e, `
		SELECT id, user_id, type, amount, reference, balance_after, note, actor_id, created_at
		FROM ledger_entries
		WHERE user_id = $1 AND type = $2 AND reference = $3
	`, m.UserID, string(m.Type), m.Reference)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup reference: %w", err)
	}
	return &e, nil
}

// ApplyTx applies m inside a caller-owned transaction. Steps: lock the
// balance row, reject a repeated reference, enforce balance >= 0, insert the
// entry and move the balance. On ErrDuplicateReference the returned Result
// carries the original entry; the transaction is still usable.
func (r *Repository) ApplyTx(ctx context.Context, tx *sqlx.Tx, m Mutation) (Result, error) {
	if err := Validate(m); err != nil {
		return Result{}, err
	}

	balance, err := r.LockBalanceTx(ctx, tx, m.UserID)
	if err != nil {
		return Result{}, err
	}

	existing, err := r.findByReference(ctx, tx, m)
	if err != nil {
		return Result{}, err
	}
	if existing != nil {
		if existing.Amount != m.Amount {
			return Result{}, ErrReferenceConflict
		}
		return Result{Entry: *existing, Balance: balance, Duplicate: true}, ErrDuplicateReference
	}

	next := balance + m.Amount
	if next < 0 {
		return Result{Balance: balance}, ErrInsufficientFunds
	}

	entry := Entry{
		ID:           uuid.New(),
		UserID:       m.UserID,
		Type:         m.Type,
		Amount:       m.Amount,
		Reference:    m.Reference,
		BalanceAfter: next,
		ActorID:      m.ActorID,
	}
	if m.Note != "" {
		note := m.Note
		entry.Note = &note
	}

	err = tx.GetContext(ctx, &entry.CreatedAt, `
		INSERT INTO ledger_entries (id, user_id, type, amount, reference, balance_after, note, actor_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, entry.ID, entry.UserID, string(entry.Type), entry.Amount, entry.Reference, entry.BalanceAfter, entry.Note, entry.ActorID)
	if err != nil {
		// Unreachable while the row lock is held; the transaction is aborted
		// and must be rolled back by the caller.
		if database.IsUniqueViolation(err, "ledger_entries_user_type_reference_key") {
			return Result{}, ErrDuplicateReference
		}
		return Result{}, fmt.Errorf("insert entry: %w", err)
	}

	_, err = tx.ExecContext(ctx, `UPDATE users SET coin_balance = $1, updated_at = now() WHERE id = $2`, next, m.UserID)
	if err != nil {
		if database.IsCheckViolation(err, "users_coin_balance_nonnegative") {
			return Result{}, ErrInsufficientFunds
		}
		return Result{}, fmt.Errorf("update balance: %w", err)
	}

	return Result{Entry: entry, Balance: next}, nil
}

// Apply runs ApplyTx in its own transaction.
func (r *Repository) Apply(ctx context.Context, m Mutation) (Result, error) {
	var res Result
	err := r.runner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		res, err = r.ApplyTx(ctx, tx, m)
		return err
	})
	return res, err
}

func (r *Repository) GetBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var balance int64
	err := r.runner.DB().GetContext(ctx, &balance, `SELECT coin_balance FROM users WHERE id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

func (r *Repository) ListEntries(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Entry, int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var total int
	if err := r.runner.DB().GetContext(ctx, &total, `SELECT COUNT(*) FROM ledger_entries WHERE user_id = $1`, userID); err != nil {
		return nil, 0, fmt.Errorf("count entries: %w", err)
	}

	entries := []Entry{}
	err := r.runner.DB().SelectContext(ctx, &entries, `
		SELECT id, user_id, type, amount, reference, balance_after, note, actor_id, created_at
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list entries: %w", err)
	}
	return entries, total, nil
}

// FindMismatches returns every user whose balance is not the sum of their
// entries. An empty result means the ledger is consistent.
func (r *Repository) FindMismatches(ctx context.Context) ([]Mismatch, error) {
	mismatches := []Mismatch{}
	err := r.runner.DB().SelectContext(ctx, &mismatches, `
		SELECT u.id AS user_id, u.coin_balance AS balance, COALESCE(SUM(e.amount), 0) AS entry_sum
		FROM users u
		LEFT JOIN ledger_entries e ON e.user_id = u.id
		GROUP BY u.id, u.coin_balance
		HAVING u.coin_balance <> COALESCE(SUM(e.amount), 0)
		ORDER BY u.id
	`)
	if err != nil {
		return nil, fmt.Errorf("find mismatches: %w", err)
	}
	return mismatches, nil
}
