package failover

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/angeloszaimis/rpc-failover/internal/endpoint"
	"github.com/angeloszaimis/rpc-failover/internal/retry"
)

// HealthSource reports endpoint health. *healthcheck.Monitor satisfies it.
type HealthSource interface {
	StatusSnapshot() endpoint.StatusFunc
}

// Runner executes an operation against a single endpoint.
// *retry.Executor satisfies it.
type Runner interface {
	Execute(ctx context.Context, ep endpoint.Endpoint, op retry.Operation) error
}

// Observer is told every time a call leaves an endpoint for the next one.
type Observer interface {
	OnFallback(from string, err error)
}

type Option func(*Orchestrator)

func WithObserver(o Observer) Option {
	return func(orc *Orchestrator) {
		orc.observer = o
	}
}

type Orchestrator struct {
	endpoints atomic.Pointer[[]endpoint.Endpoint]
	health    HealthSource
	runner    Runner
	observer  Observer
	closed    atomic.Bool
	logger    *slog.Logger
}

func NewOrchestrator(endpoints []endpoint.Endpoint, health HealthSource, runner Runner, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		health: health,
		runner: runner,
		logger: logger,
	}
	o.UpdateEndpoints(endpoints)

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// UpdateEndpoints replaces the endpoint list. Calls already running keep
// the list they started with.
func (o *Orchestrator) UpdateEndpoints(endpoints []endpoint.Endpoint) {
	list := append([]endpoint.Endpoint(nil), endpoints...)
	o.endpoints.Store(&list)
}

func (o *Orchestrator) Endpoints() []endpoint.Endpoint {
	return append([]endpoint.Endpoint(nil), *o.endpoints.Load()...)
}

// Candidates returns the endpoints in the order a call made now would try
// them.
func (o *Orchestrator) Candidates() []endpoint.Endpoint {
	return endpoint.Rank(*o.endpoints.Load(), o.health.StatusSnapshot())
}

// Execute runs op against the ranked candidates until one succeeds. A
// candidate is abandoned when its breaker is open or its retries run out;
// any other outcome, including the end of ctx, is returned as is.
func (o *Orchestrator) Execute(ctx context.Context, op retry.Operation) error {
	if o.closed.Load() {
		return ErrClosed
	}

	candidates := o.Candidates()
	if len(candidates) == 0 {
		return ErrNoEndpointsConfigured
	}

	failures := make([]Failure, 0, len(candidates))
	for i, ep := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := o.runner.Execute(ctx, ep, op)
		if err == nil {
			if i > 0 {
				o.logger.Info("Served by fallback endpoint",
					slog.String("endpoint", ep.URL()),
					slog.Int("skipped", i))
			}
			return nil
		}

		if !errors.Is(err, retry.ErrCircuitOpen) && !errors.Is(err, retry.ErrRetriesExhausted) {
			return err
		}

		failures = append(failures, Failure{Endpoint: ep.URL(), Err: err})
		if i < len(candidates)-1 {
			o.logger.Debug("Falling back to next endpoint",
				slog.String("from", ep.URL()),
				slog.String("to", candidates[i+1].URL()),
				slog.String("error", err.Error()))
			if o.observer != nil {
				o.observer.OnFallback(ep.URL(), err)
			}
		}
	}

	o.logger.Warn("All endpoints exhausted", slog.Int("candidates", len(candidates)))
	return &ExhaustedError{Failures: failures}
}

// Call is Execute for operations that produce a value. The value of the
// successful attempt is returned.
func Call[T any](ctx context.Context, o *Orchestrator, fn func(ctx context.Context, attempt retry.Attempt) (T, error)) (T, error) {
	var result T
	err := o.Execute(ctx, func(ctx context.Context, attempt retry.Attempt) error {
		v, err := fn(ctx, attempt)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// Close rejects new calls with ErrClosed. Calls in flight run to
// completion.
func (o *Orchestrator) Close() {
	if o.closed.CompareAndSwap(false, true) {
		o.logger.Info("Orchestrator closed")
	}
}
