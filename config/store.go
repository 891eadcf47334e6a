package config

import (
	"sync"
	"sync/atomic"
)

// Store holds the live configuration. Readers call Current once per
// operation and use that value throughout.
type Store struct {
	current atomic.Pointer[Resolved]

	mutex       sync.Mutex
	subscribers []func(*Resolved)
}

func NewStore(initial *Resolved) *Store {
	s := &Store{}
	s.current.Store(initial)
	return s
}

func (s *Store) Current() *Resolved {
	return s.current.Load()
}

// Subscribe registers fn to run after every Publish, in registration order.
func (s *Store) Subscribe(fn func(*Resolved)) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Publish swaps in r and hands it to every subscriber. Publishes are
// serialized so subscribers see them in order.
func (s *Store) Publish(r *Resolved) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.current.Store(r)
	for _, fn := range s.subscribers {
		fn(r)
	}
}
