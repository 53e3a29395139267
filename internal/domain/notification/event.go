package notification

import (
	"time"

	"github.com/google/uuid"
)

// Kind names an auditable event.
type Kind string

const (
	KindLedgerEntryApplied  Kind = "ledger.entry_applied"
	KindReconcileMismatch   Kind = "ledger.reconcile_mismatch"
	KindReferralApplied     Kind = "referral.applied"
	KindRewardFailed        Kind = "reward.failed"
	KindPurchaseCompleted   Kind = "store.purchase_completed"
	KindOrderRefunded       Kind = "store.order_refunded"
	KindWithdrawalRequested Kind = "withdrawal.requested"
	KindWithdrawalApproved  Kind = "withdrawal.approved"
	KindWithdrawalRejected  Kind = "withdrawal.rejected"
	KindWithdrawalCancelled Kind = "withdrawal.cancelled"
	KindSettingsUpdated     Kind = "settings.updated"
)

// Event is a fire-and-forget record of something that happened. It is
// published after the owning transaction commits.
type Event struct {
	ID        uuid.UUID      `json:"id"`
	Kind      Kind           `json:"kind"`
	UserID    *uuid.UUID     `json:"user_id,omitempty"`
	ActorID   *uuid.UUID     `json:"actor_id,omitempty"`
	Amount    *int64         `json:"amount,omitempty"`
	Reference string         `json:"reference,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewEvent starts an event for userID. A nil user is allowed for system
// events such as settings changes.
func NewEvent(kind Kind, userID uuid.UUID) Event {
	e := Event{ID: uuid.New(), Kind: kind, CreatedAt: time.Now().UTC()}
	if userID != uuid.Nil {
		e.UserID = &userID
	}
	return e
}

func (e Event) WithActor(actorID uuid.UUID) Event {
	if actorID != uuid.Nil {
		e.ActorID = &actorID
	}
	return e
}

func (e Event) WithAmount(amount int64, reference string) Event {
	e.Amount = &amount
	e.Reference = reference
	return e
}

func (e Event) With(key string, value any) Event {
	payload := make(map[string]any, len(e.Payload)+1)
	for k, v := range e.Payload {
		payload[k] = v
	}
	payload[key] = value
	e.Payload = payload
	return e
}

// Sink accepts events without blocking the caller.
type Sink interface {
	Publish(e Event)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Publish(Event) {}
