package retry

import (
	"errors"
	"fmt"
)

var (
	// ErrCircuitOpen means the endpoint's breaker rejected the call.
	ErrCircuitOpen = errors.New("circuit open")
	// ErrRetriesExhausted means every allowed attempt failed.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// Error reports why an endpoint was given up on. errors.Is matches both the
// kind and the last operation error.
type Error struct {
	Kind     error
	Endpoint string
	Attempts int
	Last     error
}

func (e *Error) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("%s: %v after %d attempt(s)", e.Endpoint, e.Kind, e.Attempts)
	}
	return fmt.Sprintf("%s: %v after %d attempt(s): %v", e.Endpoint, e.Kind, e.Attempts, e.Last)
}

func (e *Error) Unwrap() []error {
	if e.Last == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Last}
}
