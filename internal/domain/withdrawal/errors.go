package withdrawal

import (
	"errors"

	"github.com/craftzone/craftzone-api/internal/domain/ledger"
)

var (
	ErrBelowMinimum      = errors.New("amount is below the minimum withdrawal")
	ErrNotFound          = errors.New("withdrawal not found")
	ErrAlreadyProcessed  = errors.New("withdrawal already processed")
	ErrInsufficientFunds = ledger.ErrInsufficientFunds
)
