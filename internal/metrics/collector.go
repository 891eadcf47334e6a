package metrics

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/angeloszaimis/rpc-failover/internal/circuitbreaker"
	"github.com/angeloszaimis/rpc-failover/internal/endpoint"
)

type EventType string

const (
	EventCallCompleted  EventType = "call_completed"
	EventFallback       EventType = "fallback"
	EventHealthChanged  EventType = "health_changed"
	EventBreakerChanged EventType = "breaker_changed"
)

type MetricEvent struct {
	Type      EventType
	Timestamp time.Time
	Endpoint  string
	Duration  time.Duration
	Success   bool
	Health    endpoint.Status
	Breaker   circuitbreaker.State
}

// Collector aggregates events on its own goroutine. Emitters never block:
// when the buffer is full the event is dropped and counted.
type Collector struct {
	eventCh chan MetricEvent
	metrics *Metrics
	dropped atomic.Int64
	logger  *slog.Logger
}

func NewCollector(bufferSize int, logger *slog.Logger) *Collector {
	return &Collector{
		eventCh: make(chan MetricEvent, bufferSize),
		metrics: NewMetrics(),
		logger:  logger,
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			c.drain()
			return
		}
	}
}

func (c *Collector) Emit(event MetricEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case c.eventCh <- event:
	default:
		c.dropped.Add(1)
	}
}

// RecordCall reports one attempt of a proxied call against ep.
func (c *Collector) RecordCall(ep string, duration time.Duration, success bool) {
	c.Emit(MetricEvent{Type: EventCallCompleted, Endpoint: ep, Duration: duration, Success: success})
}

func (c *Collector) OnHealthChanged(ep string, _, to endpoint.Status) {
	c.Emit(MetricEvent{Type: EventHealthChanged, Endpoint: ep, Health: to})
}

func (c *Collector) OnBreakerChanged(ep string, _, to circuitbreaker.State) {
	c.Emit(MetricEvent{Type: EventBreakerChanged, Endpoint: ep, Breaker: to})
}

func (c *Collector) OnFallback(from string, _ error) {
	c.Emit(MetricEvent{Type: EventFallback, Endpoint: from})
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventCallCompleted:
		c.metrics.RecordCall(event.Endpoint, event.Duration, event.Success)
	case EventFallback:
		c.metrics.RecordFallback(event.Endpoint)
	case EventHealthChanged:
		c.metrics.UpdateHealth(event.Endpoint, event.Health)
	case EventBreakerChanged:
		c.metrics.UpdateBreaker(event.Endpoint, event.Breaker)
	default:
		c.logger.Warn("Unknown metric event", slog.String("type", string(event.Type)))
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot() Snapshot {
	snap := c.metrics.Snapshot()
	snap.DroppedEvents = c.dropped.Load()
	return snap
}
