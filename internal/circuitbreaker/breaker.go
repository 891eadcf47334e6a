package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrOpen is returned by Allow while the breaker rejects calls, including
// while the single half-open trial is still outstanding.
var ErrOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Blocking requests
	StateHalfOpen              // Testing with one request
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Settings configures every breaker created by a Registry.
type Settings struct {
	ConsecutiveFailures int
	ResetTimeout        time.Duration
}

// Snapshot is a read-only copy of one breaker's bookkeeping.
type Snapshot struct {
	Endpoint            string     `json:"endpoint"`
	State               State      `json:"state"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	OpenedAt            *time.Time `json:"opened_at,omitempty"`
}

type transition struct {
	from State
	to   State
}

// CircuitBreaker guards a single endpoint. The state machine itself is
// gobreaker's two-step breaker with one half-open trial; this type mirrors its
// transitions so snapshots can report when the breaker opened.
type CircuitBreaker struct {
	endpoint string
	breaker  *gobreaker.TwoStepCircuitBreaker
	notify   func(endpoint string, from, to State)

	mutex    sync.Mutex
	state    State
	openedAt time.Time
	pending  []transition
}

func NewCircuitBreaker(endpoint string, settings Settings, notify func(endpoint string, from, to State)) *CircuitBreaker {
	cb := &CircuitBreaker{
		endpoint: endpoint,
		notify:   notify,
		state:    StateClosed,
	}

	threshold := uint32(settings.ConsecutiveFailures)
	cb.breaker = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        endpoint,
		MaxRequests: 1,
		Timeout:     settings.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: cb.onStateChange,
	})

	return cb
}

// Allow asks permission for one attempt. The returned callback must be called
// exactly once with the attempt's outcome.
func (cb *CircuitBreaker) Allow() (func(success bool), error) {
	done, err := cb.breaker.Allow()
	cb.flush()

	if err != nil {
		return nil, ErrOpen
	}

	return func(success bool) {
		done(success)
		cb.flush()
	}, nil
}

func (cb *CircuitBreaker) State() State {
	// gobreaker moves OPEN to HALF-OPEN lazily when the state is read.
	cb.breaker.State()
	cb.flush()

	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// Snapshot reports gobreaker's own counts, which only cover calls admitted
// in the current generation.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.breaker.State()
	counts := cb.breaker.Counts()
	cb.flush()

	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	snap := Snapshot{
		Endpoint:            cb.endpoint,
		State:               cb.state,
		ConsecutiveFailures: int(counts.ConsecutiveFailures),
	}
	if cb.state == StateOpen {
		openedAt := cb.openedAt
		snap.OpenedAt = &openedAt
	}

	return snap
}

// onStateChange runs while gobreaker holds its own lock, so it only records
// the transition. Listeners are called from flush once that lock is released.
func (cb *CircuitBreaker) onStateChange(_ string, from, to gobreaker.State) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.state = convertState(to)
	if cb.state == StateOpen {
		cb.openedAt = time.Now()
	} else {
		cb.openedAt = time.Time{}
	}
	cb.pending = append(cb.pending, transition{from: convertState(from), to: cb.state})
}

func (cb *CircuitBreaker) flush() {
	cb.mutex.Lock()
	pending := cb.pending
	cb.pending = nil
	cb.mutex.Unlock()

	if cb.notify == nil {
		return
	}

	for _, t := range pending {
		cb.notify(cb.endpoint, t.from, t.to)
	}
}

func convertState(state gobreaker.State) State {
	switch state {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
