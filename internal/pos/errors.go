package pos

import (
	"errors"
	"fmt"
)

var (
	// ErrSaleNotFound indicates a missing sale row.
	ErrSaleNotFound = errors.New("sale not found")
	// ErrActorRequired rejects mutating operations without an acting user.
	// There is no fallback account.
	ErrActorRequired = errors.New("actor id required")
	// ErrEmptyItems rejects a sale with no line items.
	ErrEmptyItems = errors.New("sale requires at least one item")
	// ErrInvalidTransition is matched by InvalidTransitionError via errors.Is.
	ErrInvalidTransition = errors.New("invalid sale state transition")
	// ErrValidation is matched by ValidationError via errors.Is.
	ErrValidation = errors.New("validation failed")
)

// InvalidTransitionError reports a rejected lifecycle transition with both
// state names so the caller can render an actionable message.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid sale state transition: %s -> %s", e.From, e.To)
}

// Is lets callers match with errors.Is(err, ErrInvalidTransition).
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ValidationError reports malformed input or arithmetic that does not add up.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Detail)
}

// Is lets callers match with errors.Is(err, ErrValidation).
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
