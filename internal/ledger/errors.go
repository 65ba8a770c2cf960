package ledger

import (
	"errors"
	"fmt"
)

// Errors returned by session operations.
var (
	// ErrNotFound means no visible row exists for the requested id.
	ErrNotFound = errors.New("ledger: span not found")

	// ErrConflict means the append retry budget was exhausted while
	// racing other writers on the same id.
	ErrConflict = errors.New("ledger: append conflict, retry budget exhausted")
)

// ValidationError reports a missing or malformed required field. It is
// returned before any side effect takes place.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ledger: invalid span: %s: %s", e.Field, e.Message)
}

// IsValidation reports whether err is a ValidationError.
// Uses errors.As to handle wrapped errors.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
