package retry

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/angeloszaimis/rpc-failover/internal/circuitbreaker"
	"github.com/angeloszaimis/rpc-failover/internal/endpoint"
)

type Settings struct {
	Enabled      bool
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Attempt describes one try of an operation. It only lives for the call.
type Attempt struct {
	Number   int
	Delay    time.Duration
	Endpoint endpoint.Endpoint
}

// Operation is the caller's request against one endpoint.
type Operation func(ctx context.Context, attempt Attempt) error

type Option func(*Executor)

// WithSleep replaces the function used to wait between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) {
		e.sleep = sleep
	}
}

type Executor struct {
	breakers *circuitbreaker.Registry
	settings atomic.Pointer[Settings]
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *slog.Logger
}

func NewExecutor(breakers *circuitbreaker.Registry, settings Settings, logger *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		breakers: breakers,
		sleep:    SleepWithContext,
		logger:   logger,
	}
	e.settings.Store(&settings)

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// SetSettings swaps the retry settings. Calls already running keep the
// settings they started with.
func (e *Executor) SetSettings(s Settings) {
	e.settings.Store(&s)
}

func (e *Executor) Settings() Settings {
	return *e.settings.Load()
}

// Execute runs op against ep. It returns nil on the first success, a
// context error when ctx ends, or an *Error whose Kind is ErrCircuitOpen or
// ErrRetriesExhausted. Attempts cut short by ctx never count against the
// breaker.
func (e *Executor) Execute(ctx context.Context, ep endpoint.Endpoint, op Operation) error {
	s := e.Settings()

	if !s.Enabled {
		if err := op(ctx, Attempt{Number: 1, Endpoint: ep}); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &Error{Kind: ErrRetriesExhausted, Endpoint: ep.URL(), Attempts: 1, Last: err}
		}
		return nil
	}

	maxAttempts := s.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	breaker := e.breakers.GetBreaker(ep.URL())

	var last error
	for n := 1; n <= maxAttempts; n++ {
		delay := Delay(n, s.InitialDelay, s.MaxDelay)
		if delay > 0 {
			if err := e.sleep(ctx, delay); err != nil {
				return err
			}
		}

		done, err := breaker.Allow()
		if err != nil {
			return &Error{Kind: ErrCircuitOpen, Endpoint: ep.URL(), Attempts: n - 1, Last: last}
		}

		err = op(ctx, Attempt{Number: n, Delay: delay, Endpoint: ep})

		// An attempt cut short by the caller says nothing about the endpoint.
		// It is released as a success so a half-open trial slot never leaks.
		if err != nil && ctx.Err() != nil {
			done(true)
			return ctx.Err()
		}

		done(err == nil)
		if err == nil {
			return nil
		}
		last = err

		if breaker.State() == circuitbreaker.StateOpen {
			return &Error{Kind: ErrCircuitOpen, Endpoint: ep.URL(), Attempts: n, Last: last}
		}

		e.logger.Debug("Attempt failed",
			slog.String("endpoint", ep.URL()),
			slog.Int("attempt", n),
			slog.Int("max_attempts", maxAttempts),
			slog.String("error", err.Error()))
	}

	return &Error{Kind: ErrRetriesExhausted, Endpoint: ep.URL(), Attempts: maxAttempts, Last: last}
}
