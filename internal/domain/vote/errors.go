package vote

import "errors"

var (
	ErrInvalidTarget = errors.New("unknown vote target type")
	ErrInvalidValue  = errors.New("vote value must be 1 or -1")
)
