package ledger

import (
	"errors"

	"github.com/craftzone/craftzone-api/internal/pkg/database"
)

var (
	ErrInvalidAmount      = errors.New("invalid amount for entry type")
	ErrInvalidEntryType   = errors.New("unknown entry type")
	ErrMissingReference   = errors.New("reference is required")
	ErrInsufficientFunds  = errors.New("insufficient coin balance")
	ErrDuplicateReference = errors.New("entry with this reference already applied")
	ErrReferenceConflict  = errors.New("reference already used with a different amount")
	ErrUserNotFound       = errors.New("user not found")

	// ErrStoreUnavailable aliases the transaction runner's error so callers
	// only need this package.
	ErrStoreUnavailable = database.ErrStoreUnavailable
)

// IsBenign reports errors that mean "already done": the caller should
// answer success without crediting again.
func IsBenign(err error) bool {
	return errors.Is(err, ErrDuplicateReference)
}
