package message

import (
	"errors"
	"fmt"
)

var (
	// ErrSchema matches any *SchemaError via errors.Is.
	ErrSchema = errors.New("schema error")

	// ErrInvalidTransition matches any *InvalidTransitionError via errors.Is.
	ErrInvalidTransition = errors.New("invalid transition")
)

// SchemaError reports malformed input. It is never retried: the item is
// rejected.
type SchemaError struct {
	Field  string
	Reason string
	Err    error
}

func (e *SchemaError) Error() string {
	msg := fmt.Sprintf("schema: %s: %s", e.Field, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SchemaError) Unwrap() error { return e.Err }

func (e *SchemaError) Is(target error) bool { return target == ErrSchema }

// InvalidTransitionError reports a lifecycle move the state machine does
// not allow. It is reported, never retried.
type InvalidTransitionError struct {
	ID   string
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s for message %s", e.From, e.To, e.ID)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// IsSchemaError reports whether err is or wraps a *SchemaError.
func IsSchemaError(err error) bool {
	return errors.Is(err, ErrSchema)
}

// IsInvalidTransition reports whether err is or wraps an *InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}
