package store

import (
	"errors"

	"github.com/craftzone/craftzone-api/internal/domain/ledger"
)

var (
	ErrItemUnavailable     = errors.New("item is not available")
	ErrOutOfStock          = errors.New("item is out of stock")
	ErrInsufficientFunds   = ledger.ErrInsufficientFunds
	ErrEmptyCart           = errors.New("no items to purchase")
	ErrInvalidQuantity     = errors.New("quantity must be between 1 and 100")
	ErrOrderNotFound       = errors.New("order not found")
	ErrOrderNotRefundable  = errors.New("only completed orders can be refunded")
	ErrIdempotencyConflict = errors.New("idempotency key already used for a different purchase")
	ErrTotalTooLarge       = errors.New("order total exceeds the coin limit")

	errOrderExists = errors.New("order for transaction already exists")
)
