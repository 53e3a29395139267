package withdrawal

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/craftzone/craftzone-api/internal/domain/ledger"
	"github.com/craftzone/craftzone-api/internal/domain/notification"
	"github.com/craftzone/craftzone-api/internal/pkg/cache"
	"github.com/craftzone/craftzone-api/internal/pkg/logger"
	"github.com/craftzone/craftzone-api/internal/pkg/metrics"
)

const (
	pendingCountKey = "withdrawals:pending_count"
	pendingCountTTL = 30 * time.Second
)

// Store is implemented by *Repository.
type Store interface {
	Create(ctx context.Context, w *Withdrawal) (ledger.Result, error)
	Resolve(ctx context.Context, id, adminID uuid.UUID, to Status, reason string) (Transition, error)
	Cancel(ctx context.Context, userID, id uuid.UUID) (Transition, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]Withdrawal, int, error)
	CountPending(ctx context.Context) (int, error)
}

// Announcer reports ledger entries committed by withdrawal transactions.
type Announcer interface {
	Announce(ctx context.Context, entries ...ledger.Entry)
}

type Service struct {
	store     Store
	ledger    Announcer
	cache     cache.Cache
	sink      notification.Sink
	minAmount int64
}

func NewService(store Store, ledgerSvc Announcer, c cache.Cache, sink notification.Sink, minAmount int64) *Service {
	if sink == nil {
		sink = notification.NopSink{}
	}
	if minAmount < 1 {
		minAmount = 1
	}
	return &Service{store: store, ledger: ledgerSvc, cache: c, sink: sink, minAmount: minAmount}
}

func (s *Service) MinAmount() int64 {
	return s.minAmount
}

// Request debits amount and opens a pending withdrawal.
func (s *Service) Request(ctx context.Context, userID uuid.UUID, amount int64, method, details string) (Transition, error) {
	if amount < s.minAmount {
		return Transition{}, ErrBelowMinimum
	}

	w := &Withdrawal{
		ID:            uuid.New(),
		UserID:        userID,
		Amount:        amount,
		Status:        StatusPending,
		PayoutMethod:  method,
		PayoutDetails: details,
	}
	res, err := s.store.Create(ctx, w)
	if err != nil {
		logger.FromContext(ctx).Warn().Err(err).
			Str("user_id", userID.String()).
			Int64("amount", amount).
			Msg("Withdrawal request rejected")
		return Transition{}, err
	}

	s.invalidatePending(ctx)
	metrics.WithdrawalsTotal.WithLabelValues(string(StatusPending)).Inc()
	s.ledger.Announce(ctx, res.Entry)
	s.sink.Publish(notification.NewEvent(notification.KindWithdrawalRequested, userID).
		WithAmount(-amount, ledger.WithdrawalRef(w.ID)).
		With("withdrawal_id", w.ID.String()).
		With("payout_method", method))
	logger.FromContext(ctx).Info().
		Str("withdrawal_id", w.ID.String()).
		Str("user_id", userID.String()).
		Int64("amount", amount).
		Msg("Withdrawal requested")

	return Transition{Withdrawal: *w, Entry: &res.Entry, Balance: res.Balance}, nil
}

func (s *Service) Approve(ctx context.Context, adminID, id uuid.UUID) (Transition, error) {
	return s.resolve(ctx, adminID, id, StatusApproved, "")
}

// Reject returns the withdrawn amount to the user.
func (s *Service) Reject(ctx context.Context, adminID, id uuid.UUID, reason string) (Transition, error) {
	return s.resolve(ctx, adminID, id, StatusRejected, reason)
}

func (s *Service) resolve(ctx context.Context, adminID, id uuid.UUID, to Status, reason string) (Transition, error) {
	l := logger.FromContext(ctx).With().
		Str("withdrawal_id", id.String()).
		Str("admin_id", adminID.String()).
		Logger()

	t, err := s.store.Resolve(ctx, id, adminID, to, reason)
	if err != nil {
		l.Warn().Err(err).Str("to", string(to)).Msg("Withdrawal transition refused")
		return Transition{}, err
	}

	s.invalidatePending(ctx)
	metrics.WithdrawalsTotal.WithLabelValues(string(to)).Inc()

	w := t.Withdrawal
	kind := notification.KindWithdrawalApproved
	ref := ledger.WithdrawalRef(w.ID)
	if to == StatusRejected {
		kind = notification.KindWithdrawalRejected
		ref = ledger.WithdrawalReleaseRef(w.ID)
	}
	if t.Entry != nil {
		s.ledger.Announce(ctx, *t.Entry)
	}
	s.sink.Publish(notification.NewEvent(kind, w.UserID).
		WithActor(adminID).
		WithAmount(w.Amount, ref).
		With("withdrawal_id", w.ID.String()).
		With("payout_method", w.PayoutMethod).
		With("reason", reason))
	l.Info().Str("status", string(to)).Int64("amount", w.Amount).Msg("Withdrawal processed")

	return t, nil
}

// Cancel lets the requester withdraw a pending request; the amount is
// credited back and the request removed.
func (s *Service) Cancel(ctx context.Context, userID, id uuid.UUID) (Transition, error) {
	t, err := s.store.Cancel(ctx, userID, id)
	if err != nil {
		return Transition{}, err
	}

	s.invalidatePending(ctx)
	metrics.WithdrawalsTotal.WithLabelValues("cancelled").Inc()
	if t.Entry != nil {
		s.ledger.Announce(ctx, *t.Entry)
	}
	s.sink.Publish(notification.NewEvent(notification.KindWithdrawalCancelled, userID).
		WithAmount(t.Withdrawal.Amount, ledger.WithdrawalCancelRef(id)).
		With("withdrawal_id", id.String()))
	logger.FromContext(ctx).Info().
		Str("withdrawal_id", id.String()).
		Str("user_id", userID.String()).
		Msg("Withdrawal cancelled")

	return t, nil
}

func (s *Service) ListMine(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Withdrawal, int, error) {
	return s.store.List(ctx, Filter{UserID: &userID}, limit, offset)
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]Withdrawal, int, error) {
	return s.store.List(ctx, f, limit, offset)
}

// PendingCount backs the admin badge. It is cached briefly and dropped on
// every transition.
func (s *Service) PendingCount(ctx context.Context) (int, error) {
	var n int
	if ok, err := s.cache.Get(ctx, pendingCountKey, &n); err == nil && ok {
		return n, nil
	} else if err != nil {
		logger.FromContext(ctx).Warn().Err(err).Msg("Pending count cache read failed")
	}

	n, err := s.store.CountPending(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.cache.Set(ctx, pendingCountKey, n, pendingCountTTL); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Msg("Pending count cache write failed")
	}
	return n, nil
}

func (s *Service) invalidatePending(ctx context.Context) {
	if err := s.cache.Delete(ctx, pendingCountKey); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Msg("Pending count cache invalidation failed")
	}
}
