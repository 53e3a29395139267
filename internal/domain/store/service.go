package store

import (
	"bytes"
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"

	"github.com/craftzone/craftzone-api/internal/domain/ledger"
	"github.com/craftzone/craftzone-api/internal/domain/notification"
	"github.com/craftzone/craftzone-api/internal/pkg/logger"
	"github.com/craftzone/craftzone-api/internal/pkg/metrics"
)

const maxLineQuantity = 100

// Store is implemented by *Repository.
type Store interface {
	Checkout(ctx context.Context, userID, transactionID uuid.UUID, lines []Line) (CheckoutResult, error)
	Refund(ctx context.Context, adminID, orderID uuid.UUID) (RefundResult, error)
	ListItems(ctx context.Context, activeOnly bool) ([]Item, error)
	ListOrders(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Order, int, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*Order, error)
}

// Announcer is the subset of *ledger.Service used to report entries
// committed inside store transactions.
type Announcer interface {
	Announce(ctx context.Context, entries ...ledger.Entry)
}

type Service struct {
	store  Store
	ledger Announcer
	sink   notification.Sink
}

func NewService(store Store, ledgerSvc Announcer, sink notification.Sink) *Service {
	if sink == nil {
		sink = notification.NopSink{}
	}
	return &Service{store: store, ledger: ledgerSvc, sink: sink}
}

// TransactionID derives the order transaction id. The same user and
// idempotency key always give the same id, so a retried request resolves
// to the order it already created. Without a key every call is new.
func TransactionID(userID uuid.UUID, idempotencyKey string) uuid.UUID {
	if idempotencyKey == "" {
		return uuid.New()
	}
	return uuid.NewSHA1(userID, []byte(idempotencyKey))
}

// normalizeLines merges lines per item and orders them by item id. The
// result is a snapshot: nothing after this point reads the caller's slice.
func normalizeLines(lines []Line) ([]Line, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}
	merged := make(map[uuid.UUID]int, len(lines))
	for _, l := range lines {
		if l.ItemID == uuid.Nil || l.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		merged[l.ItemID] += l.Quantity
		if merged[l.ItemID] > maxLineQuantity {
			return nil, ErrInvalidQuantity
		}
	}
	out := make([]Line, 0, len(merged))
	for id, qty := range merged {
		out = append(out, Line{ItemID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].ItemID[:], out[j].ItemID[:]) < 0
	})
	return out, nil
}

func sameLines(o Order, lines []Line) bool {
	if len(o.Items) != len(lines) {
		return false
	}
	want := make(map[uuid.UUID]int, len(lines))
	for _, l := range lines {
		want[l.ItemID] = l.Quantity
	}
	for _, oi := range o.Items {
		if want[oi.ItemID] != oi.Quantity {
			return false
		}
	}
	return true
}

// Purchase buys quantity units of one item.
func (s *Service) Purchase(ctx context.Context, userID, itemID uuid.UUID, quantity int, idempotencyKey string) (CheckoutResult, error) {
	return s.Checkout(ctx, userID, []Line{{ItemID: itemID, Quantity: quantity}}, idempotencyKey)
}

// Checkout buys every line atomically: either the whole order completes
// and the balance is debited once, or nothing changes.
func (s *Service) Checkout(ctx context.Context, userID uuid.UUID, lines []Line, idempotencyKey string) (CheckoutResult, error) {
	l := logger.FromContext(ctx).With().Str("user_id", userID.String()).Logger()

	snapshot, err := normalizeLines(lines)
	if err != nil {
		return CheckoutResult{}, err
	}
	txID := TransactionID(userID, idempotencyKey)

	res, err := s.store.Checkout(ctx, userID, txID, snapshot)
	if errors.Is(err, errOrderExists) {
		// A concurrent request with the same key committed first.
		res, err = s.store.Checkout(ctx, userID, txID, snapshot)
	}
	if err != nil {
		reason := purchaseFailure(err)
		metrics.PurchasesTotal.WithLabelValues(reason).Inc()
		ev := l.Warn()
		if reason == "error" {
			ev = l.Error()
		}
		ev.Err(err).Str("transaction_id", txID.String()).Msg("Checkout rejected")
		return CheckoutResult{}, err
	}

	if res.Replayed {
		if !sameLines(res.Order, snapshot) {
			metrics.PurchasesTotal.WithLabelValues("idempotency_conflict").Inc()
			return CheckoutResult{}, ErrIdempotencyConflict
		}
		metrics.PurchasesTotal.WithLabelValues("replayed").Inc()
		l.Info().Str("order_id", res.Order.ID.String()).Msg("Checkout replayed")
		return res, nil
	}

	metrics.PurchasesTotal.WithLabelValues("completed").Inc()
	if res.Entry != nil {
		s.ledger.Announce(ctx, *res.Entry)
	}
	s.sink.Publish(notification.NewEvent(notification.KindPurchaseCompleted, userID).
		WithAmount(-res.Order.TotalCost, ledger.OrderRef(txID)).
		With("order_id", res.Order.ID.String()).
		With("lines", len(res.Order.Items)))
	l.Info().
		Str("order_id", res.Order.ID.String()).
		Int64("total_cost", res.Order.TotalCost).
		Int64("balance_after", res.Order.BalanceAfter).
		Msg("Order completed")

	return res, nil
}

func purchaseFailure(err error) string {
	switch {
	case errors.Is(err, ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, ErrItemUnavailable):
		return "unavailable"
	case errors.Is(err, ErrTotalTooLarge):
		return "total_too_large"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrIdempotencyConflict):
		return "idempotency_conflict"
	default:
		return "error"
	}
}

// RefundOrder credits a completed order back to its buyer.
func (s *Service) RefundOrder(ctx context.Context, adminID, orderID uuid.UUID) (RefundResult, error) {
	res, err := s.store.Refund(ctx, adminID, orderID)
	if err != nil {
		return RefundResult{}, err
	}

	metrics.PurchasesTotal.WithLabelValues("refunded").Inc()
	if res.Entry != nil {
		s.ledger.Announce(ctx, *res.Entry)
	}
	s.sink.Publish(notification.NewEvent(notification.KindOrderRefunded, res.Order.UserID).
		WithActor(adminID).
		WithAmount(res.Order.TotalCost, ledger.OrderRefundRef(res.Order.TransactionID)).
		With("order_id", res.Order.ID.String()))
	logger.FromContext(ctx).Info().
		Str("order_id", res.Order.ID.String()).
		Str("admin_id", adminID.String()).
		Int64("amount", res.Order.TotalCost).
		Msg("Order refunded")

	return res, nil
}

func (s *Service) ListItems(ctx context.Context) ([]Item, error) {
	return s.store.ListItems(ctx, true)
}

func (s *Service) ListOrders(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Order, int, error) {
	return s.store.ListOrders(ctx, userID, limit, offset)
}

// GetOrder returns userID's own order; other users' orders are not found.
func (s *Service) GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o == nil || o.UserID != userID {
		return nil, ErrOrderNotFound
	}
	return o, nil
}
