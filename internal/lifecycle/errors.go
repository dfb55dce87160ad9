package lifecycle

import (
	"errors"
	"fmt"

	"github.com/roach88/postbox/internal/message"
)

var (
	// ErrNotFound matches any *NotFoundError via errors.Is.
	ErrNotFound = errors.New("message not found")

	// ErrIncomplete matches any *IncompleteTransitionError via errors.Is.
	ErrIncomplete = errors.New("transition incomplete")
)

// NotFoundError reports that a message id is not in the expected collection.
type NotFoundError struct {
	ID         string
	Collection message.Collection
}

func (e *NotFoundError) Error() string {
	if e.Collection == "" {
		return fmt.Sprintf("message %s not found", e.ID)
	}
	return fmt.Sprintf("message %s not found in %s", e.ID, e.Collection)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// IncompleteTransitionError reports that a message was removed from its
// source but the append to the target failed. The transition must be
// re-invoked (or recovered) until it succeeds; there is no rollback.
type IncompleteTransitionError struct {
	ID       string
	From, To message.Collection
	IntentID string
	Err      error
}

func (e *IncompleteTransitionError) Error() string {
	return fmt.Sprintf("transition of %s from %s to %s incomplete: %v", e.ID, e.From, e.To, e.Err)
}

func (e *IncompleteTransitionError) Unwrap() error { return e.Err }

func (e *IncompleteTransitionError) Is(target error) bool { return target == ErrIncomplete }

// IsNotFound reports whether err is or wraps a *NotFoundError.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsIncomplete reports whether err is or wraps an *IncompleteTransitionError.
func IsIncomplete(err error) bool {
	return errors.Is(err, ErrIncomplete)
}
