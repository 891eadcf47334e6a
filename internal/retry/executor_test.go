package retry_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/rpc-failover/internal/circuitbreaker"
	"github.com/angeloszaimis/rpc-failover/internal/endpoint"
	"github.com/angeloszaimis/rpc-failover/internal/retry"
)

var errBoom = errors.New("boom")

var _ = Describe("Executor", func() {
	var (
		registry *circuitbreaker.Registry
		executor *retry.Executor
		sleeps   []time.Duration
		ep       endpoint.Endpoint
		settings retry.Settings
	)

	recordSleep := func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	newExecutor := func(threshold int) {
		registry = circuitbreaker.NewRegistry(circuitbreaker.Settings{
			ConsecutiveFailures: threshold,
			ResetTimeout:        time.Minute,
		}, discardLogger())
		executor = retry.NewExecutor(registry, settings, discardLogger(), retry.WithSleep(recordSleep))
	}

	BeforeEach(func() {
		sleeps = nil
		ep = endpoint.New("http://localhost:8545", 1, false)
		settings = retry.Settings{
			Enabled:      true,
			MaxAttempts:  3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     5 * time.Second,
		}
		newExecutor(10)
	})

	Context("when the operation succeeds", func() {
		It("should return on the first success without waiting", func() {
			calls := 0
			err := executor.Execute(context.Background(), ep, func(context.Context, retry.Attempt) error {
				calls++
				return nil
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(calls).To(Equal(1))
			Expect(sleeps).To(BeEmpty())
		})

		It("should stop retrying once an attempt succeeds", func() {
			var attempts []retry.Attempt
			err := executor.Execute(context.Background(), ep, func(_ context.Context, a retry.Attempt) error {
				attempts = append(attempts, a)
				if a.Number < 2 {
					return errBoom
				}
				return nil
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(attempts).To(HaveLen(2))
			Expect(attempts[1].Delay).To(Equal(100 * time.Millisecond))
			Expect(attempts[1].Endpoint).To(Equal(ep))
			Expect(registry.Snapshot(ep.URL()).ConsecutiveFailures).To(Equal(0))
		})
	})

	Context("when every attempt fails", func() {
		It("should exhaust attempts with the backoff schedule", func() {
			calls := 0
			err := executor.Execute(context.Background(), ep, func(context.Context, retry.Attempt) error {
				calls++
				return errBoom
			})

			Expect(err).To(MatchError(retry.ErrRetriesExhausted))
			Expect(err).To(MatchError(errBoom))
			Expect(calls).To(Equal(3))
			Expect(sleeps).To(Equal([]time.Duration{100 * time.Millisecond, 200 * time.Millisecond}))

			var retryErr *retry.Error
			Expect(errors.As(err, &retryErr)).To(BeTrue())
			Expect(retryErr.Attempts).To(Equal(3))
			Expect(retryErr.Endpoint).To(Equal(ep.URL()))
		})

		It("should count every failure on the breaker", func() {
			executor.Execute(context.Background(), ep, func(context.Context, retry.Attempt) error {
				return errBoom
			})

			Expect(registry.Snapshot(ep.URL()).ConsecutiveFailures).To(Equal(3))
		})
	})

	Context("when the breaker opens mid-loop", func() {
		BeforeEach(func() {
			settings.MaxAttempts = 5
			newExecutor(2)
		})

		It("should stop immediately with circuit open", func() {
			calls := 0
			err := executor.Execute(context.Background(), ep, func(context.Context, retry.Attempt) error {
				calls++
				return errBoom
			})

			Expect(err).To(MatchError(retry.ErrCircuitOpen))
			Expect(err).NotTo(MatchError(retry.ErrRetriesExhausted))
			Expect(calls).To(Equal(2))
			Expect(sleeps).To(HaveLen(1))
			Expect(registry.Snapshot(ep.URL()).State).To(Equal(circuitbreaker.StateOpen))
		})
	})

	Context("when the breaker is already open", func() {
		BeforeEach(func() {
			newExecutor(1)
			cb := registry.GetBreaker(ep.URL())
			done, err := cb.Allow()
			Expect(err).NotTo(HaveOccurred())
			done(false)
		})

		It("should fail fast without calling the operation", func() {
			calls := 0
			err := executor.Execute(context.Background(), ep, func(context.Context, retry.Attempt) error {
				calls++
				return nil
			})

			Expect(err).To(MatchError(retry.ErrCircuitOpen))
			Expect(calls).To(BeZero())
			Expect(sleeps).To(BeEmpty())
		})
	})

	Context("when retries are disabled", func() {
		BeforeEach(func() {
			settings.Enabled = false
			newExecutor(1)
		})

		It("should attempt exactly once and leave breaker state untouched", func() {
			calls := 0
			err := executor.Execute(context.Background(), ep, func(context.Context, retry.Attempt) error {
				calls++
				return errBoom
			})

			Expect(err).To(MatchError(retry.ErrRetriesExhausted))
			Expect(calls).To(Equal(1))
			Expect(sleeps).To(BeEmpty())
			Expect(registry.Stats()).To(BeEmpty())
			Expect(registry.Snapshot(ep.URL()).State).To(Equal(circuitbreaker.StateClosed))
		})

		It("should still attempt an endpoint whose breaker is open", func() {
			cb := registry.GetBreaker(ep.URL())
			done, _ := cb.Allow()
			done(false)
			Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
			before := cb.Snapshot()

			calls := 0
			err := executor.Execute(context.Background(), ep, func(context.Context, retry.Attempt) error {
				calls++
				return nil
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(calls).To(Equal(1))
			Expect(cb.Snapshot()).To(Equal(before))
		})
	})

	Context("when the context ends", func() {
		It("should return the context error while waiting", func() {
			executor = retry.NewExecutor(registry, settings, discardLogger())
			ctx, cancel := context.WithCancel(context.Background())

			err := executor.Execute(ctx, ep, func(context.Context, retry.Attempt) error {
				cancel()
				return errBoom
			})

			Expect(err).To(MatchError(context.Canceled))
		})

		It("should not count cancelled attempts against the breaker", func() {
			newExecutor(3)

			for i := 0; i < 3; i++ {
				ctx, cancel := context.WithCancel(context.Background())
				err := executor.Execute(ctx, ep, func(ctx context.Context, _ retry.Attempt) error {
					cancel()
					return ctx.Err()
				})
				Expect(err).To(MatchError(context.Canceled))
			}

			snap := registry.Snapshot(ep.URL())
			Expect(snap.State).To(Equal(circuitbreaker.StateClosed))
			Expect(snap.ConsecutiveFailures).To(BeZero())
		})

		It("should release a half-open trial cut short by the caller", func() {
			registry = circuitbreaker.NewRegistry(circuitbreaker.Settings{
				ConsecutiveFailures: 1,
				ResetTimeout:        50 * time.Millisecond,
			}, discardLogger())
			executor = retry.NewExecutor(registry, settings, discardLogger(), retry.WithSleep(recordSleep))

			cb := registry.GetBreaker(ep.URL())
			done, err := cb.Allow()
			Expect(err).NotTo(HaveOccurred())
			done(false)
			Eventually(cb.State).Should(Equal(circuitbreaker.StateHalfOpen))

			ctx, cancel := context.WithCancel(context.Background())
			err = executor.Execute(ctx, ep, func(ctx context.Context, _ retry.Attempt) error {
				cancel()
				return ctx.Err()
			})
			Expect(err).To(MatchError(context.Canceled))

			_, err = cb.Allow()
			Expect(err).NotTo(HaveOccurred())
		})

		It("should return the context error in pass-through mode", func() {
			settings.Enabled = false
			newExecutor(1)
			ctx, cancel := context.WithCancel(context.Background())

			err := executor.Execute(ctx, ep, func(ctx context.Context, _ retry.Attempt) error {
				cancel()
				return ctx.Err()
			})

			Expect(err).To(MatchError(context.Canceled))
			Expect(err).NotTo(MatchError(retry.ErrRetriesExhausted))
		})
	})

	Describe("SetSettings", func() {
		It("should apply new settings to subsequent calls", func() {
			executor.SetSettings(retry.Settings{Enabled: true, MaxAttempts: 1})

			calls := 0
			executor.Execute(context.Background(), ep, func(context.Context, retry.Attempt) error {
				calls++
				return errBoom
			})

			Expect(calls).To(Equal(1))
			Expect(executor.Settings().MaxAttempts).To(Equal(1))
		})
	})
})
