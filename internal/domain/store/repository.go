package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/craftzone/craftzone-api/internal/domain/ledger"
	"github.com/craftzone/craftzone-api/internal/pkg/database"
)

const queryTimeout = 3 * time.Second

const itemColumns = `id, name, kind, coin_cost, inventory, redemption_code, is_active, created_at, updated_at`

const orderColumns = `id, user_id, transaction_id, total_cost, status, balance_before, balance_after,
	refunded_by, refunded_at, created_at, updated_at`

type Repository struct {
	runner *database.TxRunner
	ledger *ledger.Repository
}

func NewRepository(runner *database.TxRunner, ledgerRepo *ledger.Repository) *Repository {
	return &Repository{runner: runner, ledger: ledgerRepo}
}

type queryer interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

func idArray(ids []uuid.UUID) pq.StringArray {
	out := make(pq.StringArray, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func findOrder(ctx context.Context, q queryer, where string, arg interface{}, forUpdate bool) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE ` + where + ` = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var o Order
	err := q.GetContext(ctx, &o, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find order: %w", err)
	}
	if err := loadItems(ctx, q, []*Order{&o}); err != nil {
		return nil, err
	}
	return &o, nil
}

func loadItems(ctx context.Context, q queryer, orders []*Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(orders))
	byID := make(map[uuid.UUID]*Order, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		byID[o.ID] = o
		o.Items = []OrderItem{}
	}

	var lines []OrderItem
	err := q.SelectContext(ctx, &lines, `
		SELECT order_id, item_id, item_name, quantity, unit_price, redemption_payload
		FROM order_items
		WHERE order_id = ANY($1::uuid[])
		ORDER BY order_id, item_id
	`, idArray(ids))
	if err != nil {
		return fmt.Errorf("load order items: %w", err)
	}
	for _, l := range lines {
		if o, ok := byID[l.OrderID]; ok {
			o.Items = append(o.Items, l)
		}
	}
	return nil
}

// lockItems locks the rows for ids in id order and returns them keyed by id.
func lockItems(ctx context.Context, tx *sqlx.Tx, ids []uuid.UUID) (map[uuid.UUID]Item, error) {
	var items []Item
	err := tx.SelectContext(ctx, &items, `
		SELECT `+itemColumns+` FROM store_items
		WHERE id = ANY($1::uuid[])
		ORDER BY id
		FOR UPDATE
	`, idArray(ids))
	if err != nil {
		return nil, fmt.Errorf("lock items: %w", err)
	}
	out := make(map[uuid.UUID]Item, len(items))
	for _, it := range items {
		out[it.ID] = it
	}
	return out, nil
}

// Checkout buys lines for userID under transactionID in one transaction:
// lock items, validate, debit through the ledger, decrement stock and
// record the order. An already completed transaction is returned with
// Replayed set. lines must be merged per item.
func (r *Repository) Checkout(ctx context.Context, userID, transactionID uuid.UUID, lines []Line) (CheckoutResult, error) {
	var out CheckoutResult
	err := r.runner.WithTx(ctx, func(tx *sqlx.Tx) error {
		out = CheckoutResult{}

		ids := make([]uuid.UUID, len(lines))
		for i, l := range lines {
			ids[i] = l.ItemID
		}
		items, err := lockItems(ctx, tx, ids)
		if err != nil {
			return err
		}

		// Checked after the locks so a concurrent retry of the same
		// transaction that committed while we waited is seen.
		existing, err := findOrder(ctx, tx, "transaction_id", transactionID, false)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.UserID != userID {
				return ErrIdempotencyConflict
			}
			out.Order = *existing
			out.Replayed = true
			return nil
		}

		total, err := orderTotal(lines, items)
		if err != nil {
			return err
		}

		balance, err := r.ledger.LockBalanceTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		if balance < total {
			return ErrInsufficientFunds
		}

		for _, l := range lines {
			if inv := items[l.ItemID].Inventory; inv != nil && *inv < l.Quantity {
				return ErrOutOfStock
			}
		}

		order := Order{
			ID:            uuid.New(),
			UserID:        userID,
			TransactionID: transactionID,
			TotalCost:     total,
			Status:        OrderCompleted,
			BalanceBefore: balance,
			BalanceAfter:  balance - total,
		}

		if total > 0 {
			res, err := r.ledger.ApplyTx(ctx, tx, ledger.Mutation{
				UserID:    userID,
				Type:      ledger.EntryStorePurchase,
				Amount:    -total,
				Reference: ledger.OrderRef(transactionID),
			})
			if err != nil {
				return err
			}
			out.Entry = &res.Entry
			order.BalanceAfter = res.Balance
		}

		for _, l := range lines {
			if items[l.ItemID].Inventory == nil {
				continue
			}
			_, err := tx.ExecContext(ctx, `
				UPDATE store_items SET inventory = inventory - $1, updated_at = now() WHERE id = $2
			`, l.Quantity, l.ItemID)
			if err != nil {
				if database.IsCheckViolation(err, "store_items_inventory_nonnegative") {
					return ErrOutOfStock
				}
				return fmt.Errorf("decrement inventory: %w", err)
			}
		}

		err = tx.QueryRowxContext(ctx, `
			INSERT INTO orders (id, user_id, transaction_id, total_cost, status, balance_before, balance_after)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING created_at, updated_at
		`, order.ID, order.UserID, order.TransactionID, order.TotalCost, string(order.Status),
			order.BalanceBefore, order.BalanceAfter).Scan(&order.CreatedAt, &order.UpdatedAt)
		if err != nil {
			if database.IsUniqueViolation(err, "orders_transaction_id_key") {
				return errOrderExists
			}
			return fmt.Errorf("insert order: %w", err)
		}

		order.Items = make([]OrderItem, 0, len(lines))
		for _, l := range lines {
			it := items[l.ItemID]
			oi := OrderItem{
				OrderID:   order.ID,
				ItemID:    it.ID,
				ItemName:  it.Name,
				Quantity:  l.Quantity,
				UnitPrice: it.CoinCost,
			}
			if it.Kind == KindCode && it.RedemptionCode != nil {
				payload := *it.RedemptionCode
				oi.RedemptionPayload = &payload
			}
			_, err := tx.NamedExecContext(ctx, `
				INSERT INTO order_items (order_id, item_id, item_name, quantity, unit_price, redemption_payload)
				VALUES (:order_id, :item_id, :item_name, :quantity, :unit_price, :redemption_payload)
			`, oi)
			if err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
			order.Items = append(order.Items, oi)
		}

		out.Order = order
		return nil
	})
	return out, err
}

// Refund reverses a completed order: credit the buyer, restock finite
// items and mark the order refunded.
func (r *Repository) Refund(ctx context.Context, adminID, orderID uuid.UUID) (RefundResult, error) {
	var out RefundResult
	err := r.runner.WithTx(ctx, func(tx *sqlx.Tx) error {
		out = RefundResult{}

		order, err := findOrder(ctx, tx, "id", orderID, true)
		if err != nil {
			return err
		}
		if order == nil {
			return ErrOrderNotFound
		}
		if order.Status != OrderCompleted {
			return ErrOrderNotRefundable
		}

		ids := make([]uuid.UUID, len(order.Items))
		for i, oi := range order.Items {
			ids[i] = oi.ItemID
		}
		items, err := lockItems(ctx, tx, ids)
		if err != nil {
			return err
		}
		for _, oi := range order.Items {
			if it, ok := items[oi.ItemID]; !ok || it.Inventory == nil {
				continue
			}
			_, err := tx.ExecContext(ctx, `
				UPDATE store_items SET inventory = inventory + $1, updated_at = now() WHERE id = $2
			`, oi.Quantity, oi.ItemID)
			if err != nil {
				return fmt.Errorf("restock item: %w", err)
			}
		}

		if order.TotalCost > 0 {
			res, err := r.ledger.ApplyTx(ctx, tx, ledger.Mutation{
				UserID:    order.UserID,
				Type:      ledger.EntryStoreRefund,
				Amount:    order.TotalCost,
				Reference: ledger.OrderRefundRef(order.TransactionID),
				ActorID:   &adminID,
			})
			if err != nil {
				return err
			}
			out.Entry = &res.Entry
		}

		now := time.Now().UTC()
		_, err = tx.ExecContext(ctx, `
			UPDATE orders SET status = $1, refunded_by = $2, refunded_at = $3, updated_at = $3 WHERE id = $4
		`, string(OrderRefunded), adminID, now, order.ID)
		if err != nil {
			return fmt.Errorf("mark order refunded: %w", err)
		}
		order.Status = OrderRefunded
		order.RefundedBy = &adminID
		order.RefundedAt = &now
		order.UpdatedAt = now

		out.Order = *order
		return nil
	})
	return out, err
}

func (r *Repository) ListItems(ctx context.Context, activeOnly bool) ([]Item, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	items := []Item{}
	err := r.runner.DB().SelectContext(ctx, &items, `
		SELECT `+itemColumns+` FROM store_items
		WHERE ($1 = false OR is_active)
		ORDER BY coin_cost, name
	`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return items, nil
}

// ListOrders returns userID's orders newest first with their lines.
func (r *Repository) ListOrders(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Order, int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	db := r.runner.DB()
	var total int
	if err := db.GetContext(ctx, &total, `SELECT COUNT(*) FROM orders WHERE user_id = $1`, userID); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	orders := []Order{}
	err := db.SelectContext(ctx, &orders, `
		SELECT `+orderColumns+` FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}

	ptrs := make([]*Order, len(orders))
	for i := range orders {
		ptrs[i] = &orders[i]
	}
	if err := loadItems(ctx, db, ptrs); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (r *Repository) GetOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return findOrder(ctx, r.runner.DB(), "id", id, false)
}

// orderTotal prices lines against locked items. A total that does not fit
// in int64 is rejected instead of wrapping.
func orderTotal(lines []Line, items map[uuid.UUID]Item) (int64, error) {
	var total int64
	for _, l := range lines {
		it, ok := items[l.ItemID]
		if !ok || !it.IsActive || it.CoinCost < 0 {
			return 0, ErrItemUnavailable
		}
		qty := int64(l.Quantity)
		if qty <= 0 {
			return 0, ErrInvalidQuantity
		}
		if it.CoinCost > (math.MaxInt64-total)/qty {
			return 0, ErrTotalTooLarge
		}
		total += it.CoinCost * qty
	}
	return total, nil
}
