package ledger

import (
	"time"

	"github.com/google/uuid"
)

type EntryType string

const (
	EntryReferralApplied       EntryType = "referral_applied"
	EntryReferralBonus         EntryType = "referral_bonus"
	EntryQuizReward            EntryType = "quiz_reward"
	EntryStorePurchase         EntryType = "store_purchase"
	EntryStoreRefund           EntryType = "store_refund"
	EntryWithdrawalRequest     EntryType = "withdrawal_request"
	EntryWithdrawalHoldRelease EntryType = "withdrawal_hold_release"
	EntryAdminAdjustment       EntryType = "admin_adjustment"
	EntryFraudPenalty          EntryType = "fraud_penalty"
)

type direction int

const (
	credit direction = iota
	debit
	either
)

var entryDirections = map[EntryType]direction{
	EntryReferralApplied:       credit,
	EntryReferralBonus:         credit,
	EntryQuizReward:            credit,
	EntryStorePurchase:         debit,
	EntryStoreRefund:           credit,
	EntryWithdrawalRequest:     debit,
	EntryWithdrawalHoldRelease: credit,
	EntryAdminAdjustment:       either,
	EntryFraudPenalty:          debit,
}

// Valid reports whether t is a known entry type.
func (t EntryType) Valid() bool {
	_, ok := entryDirections[t]
	return ok
}

// Accepts reports whether amount has the sign this entry type requires.
func (t EntryType) Accepts(amount int64) bool {
	if amount == 0 {
		return false
	}
	switch entryDirections[t] {
	case credit:
		return amount > 0
	case debit:
		return amount < 0
	default:
		return true
	}
}

// Entry is one immutable balance change.
type Entry struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	UserID       uuid.UUID  `db:"user_id" json:"user_id"`
	Type         EntryType  `db:"type" json:"type"`
	Amount       int64      `db:"amount" json:"amount"`
	Reference    string     `db:"reference" json:"reference"`
	BalanceAfter int64      `db:"balance_after" json:"balance_after"`
	Note         *string    `db:"note" json:"note,omitempty"`
	ActorID      *uuid.UUID `db:"actor_id" json:"actor_id,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// Mutation is a requested balance change. Amount is signed.
type Mutation struct {
	UserID    uuid.UUID
	Type      EntryType
	Amount    int64
	Reference string
	Note      string
	ActorID   *uuid.UUID
}

// Result describes the entry a mutation resolved to. When Duplicate is set
// Entry is the previously committed entry and nothing was written.
type Result struct {
	Entry     Entry
	Balance   int64
	Duplicate bool
}

// Mismatch is a user whose cached balance differs from the entry sum.
type Mismatch struct {
	UserID   uuid.UUID `db:"user_id" json:"user_id"`
	Balance  int64     `db:"balance" json:"balance"`
	EntrySum int64     `db:"entry_sum" json:"entry_sum"`
}
