package store

import (
	"errors"
	"fmt"
)

// NotFoundError indicates the resource was not found.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ValidationError indicates a client-side validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

// ConflictError indicates a uniqueness or revision conflict.
type ConflictError struct {
	Message string
	Code    string
	Details map[string]interface{}
}

func (e *ConflictError) Error() string {
	return e.Message
}

// CodeSuperseded marks a recompute whose scope was invalidated while it ran.
const CodeSuperseded = "superseded"

// SupersededError reports a lost compare-and-swap on a scope revision.
func SupersededError(w ScopeWrite) *ConflictError {
	return &ConflictError{
		Message: fmt.Sprintf("%s %s:%s superseded at revision %d", w.Kind, w.UserID, w.RangeKey, w.Revision),
		Code:    CodeSuperseded,
		Details: map[string]interface{}{"kind": string(w.Kind), "revision": w.Revision},
	}
}

// IsSuperseded reports whether err is a lost compare-and-swap.
func IsSuperseded(err error) bool {
	var conflict *ConflictError
	return errors.As(err, &conflict) && conflict.Code == CodeSuperseded
}
