package circuitbreaker

import (
	"log/slog"
	"sort"
	"sync"
)

// Listener is notified after a breaker changes state. Calls are synchronous
// and must not block.
type Listener interface {
	OnBreakerChanged(endpoint string, from, to State)
}

// Registry owns one breaker per endpoint URL.
type Registry struct {
	mutex     sync.RWMutex
	breakers  map[string]*CircuitBreaker
	settings  Settings
	listeners []Listener
	logger    *slog.Logger
}

func NewRegistry(settings Settings, logger *slog.Logger) *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		settings: settings,
		logger:   logger,
	}
}

func (r *Registry) GetBreaker(endpointURL string) *CircuitBreaker {
	r.mutex.RLock()
	cb, exists := r.breakers[endpointURL]
	r.mutex.RUnlock()

	if exists {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Double-check: another goroutine may have created it
	if cb, exists = r.breakers[endpointURL]; exists {
		return cb
	}

	cb = NewCircuitBreaker(endpointURL, r.settings, r.notify)
	r.breakers[endpointURL] = cb
	return cb
}

// Configure replaces the settings used for breakers. When they differ from
// the current ones every breaker is dropped and recreated CLOSED on next use.
func (r *Registry) Configure(settings Settings) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if settings == r.settings {
		return
	}

	r.settings = settings
	r.breakers = make(map[string]*CircuitBreaker)
	r.logger.Info("Circuit breaker settings changed, breakers reset",
		slog.Int("consecutive_failures", settings.ConsecutiveFailures),
		slog.Duration("reset_timeout", settings.ResetTimeout))
}

// Retain drops the breakers of every endpoint not listed.
func (r *Registry) Retain(endpointURLs []string) {
	keep := make(map[string]struct{}, len(endpointURLs))
	for _, u := range endpointURLs {
		keep[u] = struct{}{}
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	for u := range r.breakers {
		if _, ok := keep[u]; !ok {
			delete(r.breakers, u)
		}
	}
}

func (r *Registry) AddListener(l Listener) {
	if l == nil {
		return
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *Registry) Stats() map[string]State {
	r.mutex.RLock()
	breakers := make(map[string]*CircuitBreaker, len(r.breakers))
	for u, cb := range r.breakers {
		breakers[u] = cb
	}
	r.mutex.RUnlock()

	stats := make(map[string]State, len(breakers))
	for u, cb := range breakers {
		stats[u] = cb.State()
	}
	return stats
}

// Snapshot returns the state of the named endpoint without creating a
// breaker for it. Endpoints that never failed report CLOSED.
func (r *Registry) Snapshot(endpointURL string) Snapshot {
	r.mutex.RLock()
	cb, exists := r.breakers[endpointURL]
	r.mutex.RUnlock()

	if !exists {
		return Snapshot{Endpoint: endpointURL, State: StateClosed}
	}
	return cb.Snapshot()
}

// Snapshots returns every known breaker sorted by endpoint.
func (r *Registry) Snapshots() []Snapshot {
	r.mutex.RLock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mutex.RUnlock()

	snaps := make([]Snapshot, 0, len(breakers))
	for _, cb := range breakers {
		snaps = append(snaps, cb.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].Endpoint < snaps[j].Endpoint
	})
	return snaps
}

func (r *Registry) notify(endpoint string, from, to State) {
	switch to {
	case StateOpen:
		r.logger.Warn("Circuit breaker opened", slog.String("endpoint", endpoint), slog.String("from", from.String()))
	default:
		r.logger.Info("Circuit breaker state changed",
			slog.String("endpoint", endpoint),
			slog.String("from", from.String()),
			slog.String("to", to.String()))
	}

	r.mutex.RLock()
	listeners := make([]Listener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mutex.RUnlock()

	for _, l := range listeners {
		r.deliver(l, endpoint, from, to)
	}
}

func (r *Registry) deliver(l Listener, endpoint string, from, to State) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Circuit breaker listener panicked",
				slog.String("endpoint", endpoint),
				slog.Any("panic", rec))
		}
	}()

	l.OnBreakerChanged(endpoint, from, to)
}
