package metrics_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/rpc-failover/internal/circuitbreaker"
	"github.com/angeloszaimis/rpc-failover/internal/endpoint"
	"github.com/angeloszaimis/rpc-failover/internal/metrics"
)

var _ = Describe("Metrics", func() {
	const ep = "http://localhost:8899"

	var m *metrics.Metrics

	BeforeEach(func() {
		m = metrics.NewMetrics()
	})

	Describe("RecordCall", func() {
		It("should count calls and failures per endpoint", func() {
			m.RecordCall(ep, 10*time.Millisecond, true)
			m.RecordCall(ep, 20*time.Millisecond, false)
			m.RecordCall("http://other", 5*time.Millisecond, true)

			snap := m.Snapshot()
			Expect(snap.TotalCalls).To(Equal(int64(3)))
			Expect(snap.TotalFailures).To(Equal(int64(1)))
			Expect(snap.Endpoints[ep].Calls).To(Equal(int64(2)))
			Expect(snap.Endpoints[ep].Failures).To(Equal(int64(1)))
		})

		It("should compute latency percentiles", func() {
			for i := 1; i <= 100; i++ {
				m.RecordCall(ep, time.Duration(i)*time.Millisecond, true)
			}

			em := m.Snapshot().Endpoints[ep]
			Expect(em.P50Response).To(Equal(51 * time.Millisecond))
			Expect(em.P95Response).To(Equal(96 * time.Millisecond))
			Expect(em.P99Response).To(Equal(100 * time.Millisecond))
			Expect(em.AvgResponse).To(Equal(50500 * time.Microsecond))
		})

		It("should only keep the most recent samples", func() {
			for i := 0; i < 1000; i++ {
				m.RecordCall(ep, time.Second, true)
			}
			for i := 0; i < 1000; i++ {
				m.RecordCall(ep, time.Millisecond, true)
			}

			em := m.Snapshot().Endpoints[ep]
			Expect(em.P99Response).To(Equal(time.Millisecond))
			Expect(em.Calls).To(Equal(int64(2000)))
		})
	})

	Describe("state tracking", func() {
		It("should report unknown health and a closed breaker until told otherwise", func() {
			m.RecordFallback(ep)

			em := m.Snapshot().Endpoints[ep]
			Expect(em.Fallbacks).To(Equal(int64(1)))
			Expect(em.Health).To(Equal(endpoint.StatusUnknown))
			Expect(em.Breaker).To(Equal(circuitbreaker.StateClosed))
		})

		It("should keep the latest health and breaker state", func() {
			m.UpdateHealth(ep, endpoint.StatusUnhealthy)
			m.UpdateBreaker(ep, circuitbreaker.StateOpen)
			m.UpdateBreaker(ep, circuitbreaker.StateHalfOpen)

			em := m.Snapshot().Endpoints[ep]
			Expect(em.Health).To(Equal(endpoint.StatusUnhealthy))
			Expect(em.Breaker).To(Equal(circuitbreaker.StateHalfOpen))
		})
	})
})
