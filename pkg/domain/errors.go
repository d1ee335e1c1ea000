package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the referenced entity does not exist.
var ErrNotFound = errors.New("not found")

// ValidationError rejects malformed input synchronously; it is never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// InvalidStateError rejects an operation disallowed in the entity's current
// lifecycle state, naming that state.
type InvalidStateError struct {
	Op      string
	Current SourceStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s data source while status is %q", e.Op, e.Current)
}
