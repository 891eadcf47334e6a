package failover

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoEndpointsConfigured = errors.New("no endpoints configured")
	ErrAllEndpointsExhausted = errors.New("all endpoints exhausted")
	ErrClosed                = errors.New("orchestrator closed")
)

// Failure is the reason one candidate was abandoned.
type Failure struct {
	Endpoint string
	Err      error
}

// ExhaustedError lists one failure per candidate, in the order they were
// tried. errors.Is matches ErrAllEndpointsExhausted and every recorded cause.
type ExhaustedError struct {
	Failures []Failure
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Endpoint, f.Err))
	}
	return fmt.Sprintf("%v (%d tried): %s", ErrAllEndpointsExhausted, len(e.Failures), strings.Join(parts, "; "))
}

func (e *ExhaustedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures)+1)
	errs = append(errs, ErrAllEndpointsExhausted)
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
