package user

import (
	"time"

	"github.com/google/uuid"
)

// User is the account record. CoinBalance is a materialized view of the
// user's ledger entries and is only written by the ledger package.
type User struct {
	ID            uuid.UUID `db:"id"`
	Email         string    `db:"email"`
	Username      string    `db:"username"`
	PasswordHash  string    `db:"password_hash"`
	Role          string    `db:"role"`
	CoinBalance   int64     `db:"coin_balance"`
	ReferralCode  string    `db:"referral_code"`
	ReferralCount int       `db:"referral_count"`
	IsBanned      bool      `db:"is_banned"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

const RoleUser = "user"
