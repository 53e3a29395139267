package reward

import (
	"time"

	"github.com/google/uuid"

	"github.com/craftzone/craftzone-api/internal/domain/ledger"
)

// Application records that ReferredUserID redeemed ReferrerID's code. It is
// the applicant-side idempotency record: one row per (referred, referrer).
type Application struct {
	ID             uuid.UUID `db:"id" json:"id"`
	ReferredUserID uuid.UUID `db:"referred_user_id" json:"referred_user_id"`
	ReferrerID     uuid.UUID `db:"referrer_id" json:"referrer_id"`
	CodeUsed       string    `db:"code_used" json:"code_used"`
	NetworkAddr    string    `db:"network_addr" json:"-"`
	Reward         int64     `db:"reward" json:"reward"`
	AppliedAt      time.Time `db:"applied_at" json:"applied_at"`
}

// Grant is everything the referral transaction writes.
type Grant struct {
	ReferredUserID uuid.UUID
	ReferrerID     uuid.UUID
	Code           string
	NetworkAddr    string
	Reward         int64
}

// GrantResult is what the referral transaction committed.
type GrantResult struct {
	Application     Application
	Entries         []ledger.Entry
	ReferredBalance int64
}

type ReferralResult struct {
	ReferrerID     uuid.UUID `json:"referrer_id"`
	Reward         int64     `json:"reward"`
	Balance        int64     `json:"balance"`
	AlreadyApplied bool      `json:"already_applied"`
}

type Quiz struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Title      string    `db:"title" json:"title"`
	CoinReward int64     `db:"coin_reward" json:"coin_reward"`
	PassScore  int       `db:"pass_score" json:"pass_score"`
	IsActive   bool      `db:"is_active" json:"is_active"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

type QuizClaim struct {
	QuizID         uuid.UUID `json:"quiz_id"`
	Reward         int64     `json:"reward"`
	Balance        int64     `json:"balance"`
	AlreadyClaimed bool      `json:"already_claimed"`
}

type Summary struct {
	ReferralCode  string        `json:"referral_code"`
	ReferralCount int           `json:"referral_count"`
	Applied       []Application `json:"applied"`
}
