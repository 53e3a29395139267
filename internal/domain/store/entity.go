package store

import (
	"time"

	"github.com/google/uuid"

	"github.com/craftzone/craftzone-api/internal/domain/ledger"
)

type ItemKind string

const (
	KindItem ItemKind = "item"
	// KindCode items reveal a redemption code to the buyer.
	KindCode ItemKind = "code"
)

// Item is a store listing. A nil Inventory means unlimited stock.
type Item struct {
	ID             uuid.UUID `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	Kind           ItemKind  `db:"kind" json:"kind"`
	CoinCost       int64     `db:"coin_cost" json:"coin_cost"`
	Inventory      *int      `db:"inventory" json:"inventory"`
	RedemptionCode *string   `db:"redemption_code" json:"-"`
	IsActive       bool      `db:"is_active" json:"is_active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderCompleted OrderStatus = "completed"
	OrderRefunded  OrderStatus = "refunded"
	OrderCancelled OrderStatus = "cancelled"
)

type Order struct {
	ID            uuid.UUID   `db:"id" json:"id"`
	UserID        uuid.UUID   `db:"user_id" json:"user_id"`
	TransactionID uuid.UUID   `db:"transaction_id" json:"transaction_id"`
	TotalCost     int64       `db:"total_cost" json:"total_cost"`
	Status        OrderStatus `db:"status" json:"status"`
	BalanceBefore int64       `db:"balance_before" json:"balance_before"`
	BalanceAfter  int64       `db:"balance_after" json:"balance_after"`
	RefundedBy    *uuid.UUID  `db:"refunded_by" json:"refunded_by,omitempty"`
	RefundedAt    *time.Time  `db:"refunded_at" json:"refunded_at,omitempty"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time   `db:"updated_at" json:"updated_at"`

	Items []OrderItem `db:"-" json:"items"`
}

// OrderItem is one purchased line with the price and payload captured at
// purchase time.
type OrderItem struct {
	OrderID           uuid.UUID `db:"order_id" json:"-"`
	ItemID            uuid.UUID `db:"item_id" json:"item_id"`
	ItemName          string    `db:"item_name" json:"item_name"`
	Quantity          int       `db:"quantity" json:"quantity"`
	UnitPrice         int64     `db:"unit_price" json:"unit_price"`
	RedemptionPayload *string   `db:"redemption_payload" json:"redemption_payload,omitempty"`
}

// Line is a requested quantity of one item.
type Line struct {
	ItemID   uuid.UUID `json:"item_id"`
	Quantity int       `json:"quantity"`
}

// CheckoutResult is the order a checkout resolved to. Replayed is set when
// the transaction id had already completed and nothing new was written.
type CheckoutResult struct {
	Order    Order
	Entry    *ledger.Entry
	Replayed bool
}

type RefundResult struct {
	Order Order
	Entry *ledger.Entry
}
