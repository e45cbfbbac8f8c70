package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors for the engine's failure taxonomy. Controllers map these
// to HTTP statuses; callers test with errors.Is.
var (
	// ErrValidation rejects malformed input before any state change.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned for an unknown id on read/update/delete.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState marks an operation that is not legal from the
	// entity's current status.
	ErrInvalidState = errors.New("invalid state")

	// ErrConflict marks a lost concurrent-mutation race; safe to retry.
	ErrConflict = errors.New("conflict")
)

func validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrValidation}, args...)...)
}

func invalidStatef(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalidState}, args...)...)
}
