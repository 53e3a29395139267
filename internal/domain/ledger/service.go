package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/craftzone/craftzone-api/internal/domain/notification"
	"github.com/craftzone/craftzone-api/internal/pkg/logger"
	"github.com/craftzone/craftzone-api/internal/pkg/metrics"
)

// Store is the persistence the service needs; *Repository implements it.
type Store interface {
	Apply(ctx context.Context, m Mutation) (Result, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (int64, error)
	ListEntries(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Entry, int, error)
	FindMismatches(ctx context.Context) ([]Mismatch, error)
}

type Service struct {
	store Store
	sink  notification.Sink
}

func NewService(store Store, sink notification.Sink) *Service {
	if sink == nil {
		sink = notification.NopSink{}
	}
	return &Service{store: store, sink: sink}
}

// ApplyEntry applies one mutation in its own transaction. A repeated
// reference returns the original entry together with ErrDuplicateReference.
func (s *Service) ApplyEntry(ctx context.Context, m Mutation) (Result, error) {
	res, err := s.store.Apply(ctx, m)
	if err != nil {
		s.Reject(ctx, m, err)
		return res, err
	}
	s.Announce(ctx, res.Entry)
	return res, nil
}

// AdminAdjust credits or debits a user on behalf of an admin. Scripted
// adjustments pass their own reference so that reruns are absorbed; an empty
// reference gets a fresh one.
func (s *Service) AdminAdjust(ctx context.Context, adminID, userID uuid.UUID, amount int64, reference, note string) (Result, error) {
	if reference == "" {
		reference = "admin_" + uuid.NewString()
	}
	return s.applyAdmin(ctx, Mutation{
		UserID:    userID,
		Type:      EntryAdminAdjustment,
		Amount:    amount,
		Reference: reference,
		Note:      note,
		ActorID:   &adminID,
	})
}

// Penalize removes amount coins (a positive number) as a fraud penalty.
func (s *Service) Penalize(ctx context.Context, adminID, userID uuid.UUID, amount int64, reference, note string) (Result, error) {
	if amount <= 0 {
		return Result{}, ErrInvalidAmount
	}
	if reference == "" {
		reference = "penalty_" + uuid.NewString()
	}
	return s.applyAdmin(ctx, Mutation{
		UserID:    userID,
		Type:      EntryFraudPenalty,
		Amount:    -amount,
		Reference: reference,
		Note:      note,
		ActorID:   &adminID,
	})
}

func (s *Service) applyAdmin(ctx context.Context, m Mutation) (Result, error) {
	res, err := s.ApplyEntry(ctx, m)
	if IsBenign(err) {
		return res, nil
	}
	return res, err
}

func (s *Service) GetBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.store.GetBalance(ctx, userID)
}

func (s *Service) ListEntries(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Entry, int, error) {
	return s.store.ListEntries(ctx, userID, limit, offset)
}

func (s *Service) FindMismatches(ctx context.Context) ([]Mismatch, error) {
	return s.store.FindMismatches(ctx)
}

// Announce logs, counts and publishes committed entries. Callers that write
// entries inside their own transaction call it after commit.
func (s *Service) Announce(ctx context.Context, entries ...Entry) {
	l := logger.FromContext(ctx)
	for _, e := range entries {
		metrics.LedgerEntriesTotal.WithLabelValues(string(e.Type)).Inc()
		l.Info().
			Str("user_id", e.UserID.String()).
			Str("type", string(e.Type)).
			Int64("amount", e.Amount).
			Str("reference", e.Reference).
			Int64("balance_after", e.BalanceAfter).
			Msg("Ledger entry applied")

		ev := notification.NewEvent(notification.KindLedgerEntryApplied, e.UserID).
			WithAmount(e.Amount, e.Reference).
			With("type", string(e.Type)).
			With("entry_id", e.ID.String()).
			With("balance_after", e.BalanceAfter)
		if e.ActorID != nil {
			ev = ev.WithActor(*e.ActorID)
		}
		s.sink.Publish(ev)
	}
}

// Reject records a mutation that did not commit.
func (s *Service) Reject(ctx context.Context, m Mutation, err error) {
	if IsBenign(err) {
		metrics.DuplicateRewardsTotal.WithLabelValues(string(m.Type)).Inc()
		logger.FromContext(ctx).Info().
			Str("user_id", m.UserID.String()).
			Str("type", string(m.Type)).
			Str("reference", m.Reference).
			Msg("Ledger reference already applied")
		return
	}

	reason := RejectionReason(err)
	metrics.LedgerRejectionsTotal.WithLabelValues(reason).Inc()

	l := logger.FromContext(ctx)
	event := l.Warn()
	if reason == "internal" || reason == "store_unavailable" {
		event = l.Error()
	}
	event.Err(err).
		Str("user_id", m.UserID.String()).
		Str("type", string(m.Type)).
		Int64("amount", m.Amount).
		Str("reference", m.Reference).
		Str("reason", reason).
		Msg("Ledger mutation rejected")
}

// RejectionReason gives a stable metric label for err.
func RejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrReferenceConflict):
		return "reference_conflict"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidEntryType), errors.Is(err, ErrMissingReference):
		return "invalid"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "internal"
	}
}
