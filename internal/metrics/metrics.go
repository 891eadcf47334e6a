package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/angeloszaimis/rpc-failover/internal/circuitbreaker"
	"github.com/angeloszaimis/rpc-failover/internal/endpoint"
)

const maxSamples = 1000

type Metrics struct {
	mutex         sync.RWMutex
	calls         map[string]int64
	failures      map[string]int64
	fallbacks     map[string]int64
	responseTimes map[string][]time.Duration
	health        map[string]endpoint.Status
	breakers      map[string]circuitbreaker.State
	startTime     time.Time
}

type Snapshot struct {
	TotalCalls     int64                      `json:"total_calls"`
	TotalFailures  int64                      `json:"total_failures"`
	TotalFallbacks int64                      `json:"total_fallbacks"`
	DroppedEvents  int64                      `json:"dropped_events"`
	Uptime         time.Duration              `json:"uptime"`
	Endpoints      map[string]EndpointMetrics `json:"endpoints"`
}

type EndpointMetrics struct {
	Calls       int64                `json:"calls"`
	Failures    int64                `json:"failures"`
	Fallbacks   int64                `json:"fallbacks"`
	Health      endpoint.Status      `json:"health"`
	Breaker     circuitbreaker.State `json:"breaker"`
	AvgResponse time.Duration        `json:"avg_response"`
	P50Response time.Duration        `json:"p50_response"`
	P95Response time.Duration        `json:"p95_response"`
	P99Response time.Duration        `json:"p99_response"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		calls:         make(map[string]int64),
		failures:      make(map[string]int64),
		fallbacks:     make(map[string]int64),
		responseTimes: make(map[string][]time.Duration),
		health:        make(map[string]endpoint.Status),
		breakers:      make(map[string]circuitbreaker.State),
		startTime:     time.Now(),
	}
}

// RecordCall counts one attempt and keeps its latency among the last
// maxSamples for the endpoint.
func (m *Metrics) RecordCall(ep string, duration time.Duration, success bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.calls[ep]++
	if !success {
		m.failures[ep]++
	}

	samples := append(m.responseTimes[ep], duration)
	if len(samples) > maxSamples {
		samples = samples[len(samples)-maxSamples:]
	}
	m.responseTimes[ep] = samples
}

// RecordFallback counts a call that left ep for the next candidate.
func (m *Metrics) RecordFallback(ep string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.fallbacks[ep]++
}

func (m *Metrics) UpdateHealth(ep string, status endpoint.Status) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.health[ep] = status
}

func (m *Metrics) UpdateBreaker(ep string, state circuitbreaker.State) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.breakers[ep] = state
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime:    time.Since(m.startTime),
		Endpoints: make(map[string]EndpointMetrics),
	}

	all := make(map[string]struct{})
	for _, keys := range []map[string]int64{m.calls, m.failures, m.fallbacks} {
		for ep := range keys {
			all[ep] = struct{}{}
		}
	}
	for ep := range m.health {
		all[ep] = struct{}{}
	}
	for ep := range m.breakers {
		all[ep] = struct{}{}
	}

	for ep := range all {
		snap.TotalCalls += m.calls[ep]
		snap.TotalFailures += m.failures[ep]
		snap.TotalFallbacks += m.fallbacks[ep]

		em := EndpointMetrics{
			Calls:     m.calls[ep],
			Failures:  m.failures[ep],
			Fallbacks: m.fallbacks[ep],
			Health:    m.health[ep],
			Breaker:   m.breakers[ep],
		}

		if durations := m.responseTimes[ep]; len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			em.AvgResponse = average(sorted)
			em.P50Response = percentile(sorted, 0.50)
			em.P95Response = percentile(sorted, 0.95)
			em.P99Response = percentile(sorted, 0.99)
		}

		snap.Endpoints[ep] = em
	}

	return snap
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
