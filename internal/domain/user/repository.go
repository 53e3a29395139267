package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/craftzone/craftzone-api/internal/pkg/database"
)

// Repository defines user data access interface
type Repository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByReferralCode(ctx context.Context, code string) (*User, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	ContactInfo(ctx context.Context, id uuid.UUID) (email, name string, err error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates new user repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

const userColumns = `id, email, username, password_hash, role, coin_balance, referral_code, referral_count, is_banned, created_at, updated_at`

// Create inserts user with a zero balance. Balances only move through ledger
// entries.
func (r *repository) Create(ctx context.Context, user *User) error {
	err := r.db.GetContext(ctx, user, `
		INSERT INTO users (id, email, username, password_hash, role, referral_code)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+userColumns,
		user.ID, strings.ToLower(user.Email), user.Username, user.PasswordHash, user.Role, user.ReferralCode,
	)
	switch {
	case database.IsUniqueViolation(err, "users_email_key"):
		return ErrEmailAlreadyExists
	case database.IsUniqueViolation(err, "users_referral_code_key"):
		return ErrReferralCodeTaken
	case err != nil:
		return fmt.Errorf("user repository create: %w", err)
	}
	return nil
}

func (r *repository) getBy(ctx context.Context, where string, arg any) (*User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE `+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByID returns user by ID, or nil when absent.
func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.getBy(ctx, `id = $1`, id)
}

// GetByEmail returns user by email, or nil when absent.
func (r *repository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.getBy(ctx, `email = $1`, strings.ToLower(strings.TrimSpace(email)))
}

// GetByReferralCode returns the code's owner, or nil when absent.
func (r *repository) GetByReferralCode(ctx context.Context, code string) (*User, error) {
	return r.getBy(ctx, `referral_code = $1`, strings.ToUpper(strings.TrimSpace(code)))
}

func (r *repository) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`, id, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *repository) ContactInfo(ctx context.Context, id uuid.UUID) (string, string, error) {
	u, err := r.GetByID(ctx, id)
	if err != nil {
		return "", "", err
	}
	if u == nil {
		return "", "", ErrUserNotFound
	}
	return u.Email, u.Username, nil
}
