package withdrawal

import (
	"time"

	"github.com/google/uuid"

	"github.com/craftzone/craftzone-api/internal/domain/ledger"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Withdrawal is a request to pay coins out. The amount is debited when the
// request is created; rejection or cancellation credits it back.
type Withdrawal struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	UserID        uuid.UUID  `db:"user_id" json:"user_id"`
	Amount        int64      `db:"amount" json:"amount"`
	Status        Status     `db:"status" json:"status"`
	PayoutMethod  string     `db:"payout_method" json:"payout_method"`
	PayoutDetails string     `db:"payout_details" json:"payout_details"`
	RejectReason  *string    `db:"reject_reason" json:"reject_reason,omitempty"`
	ProcessedAt   *time.Time `db:"processed_at" json:"processed_at,omitempty"`
	ProcessedBy   *uuid.UUID `db:"processed_by" json:"processed_by,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Status Status
	UserID *uuid.UUID
}

// Transition is a withdrawal after a state change together with the ledger
// entry the change wrote, if any.
type Transition struct {
	Withdrawal Withdrawal
	Entry      *ledger.Entry
	Balance    int64
}
