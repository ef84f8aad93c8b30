package query

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable matches every error caused by the event store failing, timing
	// out or being cancelled. Callers may retry; the engine never does.
	ErrStoreUnavailable = errors.New("event store unavailable")

	// ErrInvalidArgument is returned before any store access when a caller passes a
	// non-positive n or limit, a negative offset, an unknown dimension or a reversed
	// window.
	ErrInvalidArgument = errors.New("invalid argument")
)

// StoreUnavailableError carries the operation that failed and the underlying cause.
// errors.Is matches both ErrStoreUnavailable and the cause.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("failed to query %s: %v: %v", e.Op, ErrStoreUnavailable, e.Err)
}

func (e *StoreUnavailableError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
