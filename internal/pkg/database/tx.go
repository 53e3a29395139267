package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// ErrStoreUnavailable is returned when a transaction keeps failing for
// transient reasons after all retries were spent.
var ErrStoreUnavailable = errors.New("store unavailable")

const (
	sqlStateUniqueViolation      = "23505"
	sqlStateCheckViolation       = "23514"
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlClassConnectionException  = "08"
)

// TxRunner executes units of work inside READ COMMITTED transactions and
// retries them on transient failures. Row locks taken inside fn (SELECT ...
// FOR UPDATE) provide the isolation the ledger needs.
type TxRunner struct {
	db         *sqlx.DB
	maxRetries int
	backoff    time.Duration
}

func NewTxRunner(db *sqlx.DB, maxRetries int, backoff time.Duration) *TxRunner {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if backoff <= 0 {
		backoff = 50 * time.Millisecond
	}
	return &TxRunner{db: db, maxRetries: maxRetries, backoff: backoff}
}

// DB exposes the underlying handle for read-only queries.
func (r *TxRunner) DB() *sqlx.DB {
	return r.db
}

// WithTx runs fn in a transaction. fn may be invoked more than once, so it
// must not have effects outside the transaction.
func (r *TxRunner) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	var err error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			wait := r.backoff << (attempt - 1)
			log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", wait).Msg("Retrying transaction")
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrStoreUnavailable, ctx.Err())
			case <-time.After(wait):
			}
		}

		err = r.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func (r *TxRunner) runOnce(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// IsTransient reports whether err is worth retrying: serialization
// failures, deadlocks and lost connections.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case sqlStateSerializationFailure, sqlStateDeadlockDetected:
		return true
	}
	return string(pqErr.Code.Class()) == sqlClassConnectionException
}

// IsUniqueViolation reports a 23505 error, optionally restricted to the
// given constraint names.
func IsUniqueViolation(err error, constraints ...string) bool {
	return hasCode(err, sqlStateUniqueViolation, constraints)
}

// IsCheckViolation reports a 23514 error, optionally restricted to the given
// constraint names.
func IsCheckViolation(err error, constraints ...string) bool {
	return hasCode(err, sqlStateCheckViolation, constraints)
}

func hasCode(err error, code string, constraints []string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || string(pqErr.Code) != code {
		return false
	}
	if len(constraints) == 0 {
		return true
	}
	for _, c := range constraints {
		if pqErr.Constraint == c {
			return true
		}
	}
	return false
}
