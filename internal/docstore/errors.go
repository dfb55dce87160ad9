package docstore

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict matches any *ConflictError via errors.Is.
	ErrConflict = errors.New("version conflict")

	// ErrUnavailable matches any *StoreUnavailableError via errors.Is.
	ErrUnavailable = errors.New("store unavailable")
)

// ConflictError reports that a document changed between read and write.
// It is expected under concurrency; callers re-read and retry.
type ConflictError struct {
	Path     string
	Expected Version
	Current  Version
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s: expected %s, current %s",
		e.Path, e.Expected.String(), e.Current.String())
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// StoreUnavailableError reports an I/O failure talking to the backend,
// including timeouts. A retry must start from a fresh read, never reuse
// the version it held.
type StoreUnavailableError struct {
	Op   string
	Path string
	Err  error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

func (e *StoreUnavailableError) Is(target error) bool { return target == ErrUnavailable }

// IsConflict reports whether err is or wraps a *ConflictError.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsUnavailable reports whether err is or wraps a *StoreUnavailableError.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

func unavailable(op, path string, err error) error {
	return &StoreUnavailableError{Op: op, Path: path, Err: err}
}
