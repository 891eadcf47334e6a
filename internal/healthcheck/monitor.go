package healthcheck

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/rpc-failover/internal/endpoint"
)

const defaultInterval = 30 * time.Second

type Settings struct {
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold int
	MaxHistory       int
}

// ProbeResult is one entry of an endpoint's probe history.
type ProbeResult struct {
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	LatencyMs int64     `json:"latency_ms"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
}

// Record is a read-only copy of an endpoint's health state.
type Record struct {
	Endpoint            string          `json:"endpoint"`
	Priority            int             `json:"priority"`
	Fallback            bool            `json:"fallback"`
	Status              endpoint.Status `json:"status"`
	ConsecutiveFailures int             `json:"consecutive_failures"`
	History             []ProbeResult   `json:"history"`
}

// Listener is notified after an endpoint's status flips. Calls are
// synchronous and must not block.
type Listener interface {
	OnHealthChanged(endpoint string, from, to endpoint.Status)
}

type record struct {
	history             *history
	consecutiveFailures int
	status              endpoint.Status
}

type target struct {
	endpoint endpoint.Endpoint
	record   *record
}

type Option func(*Monitor)

// WithClock replaces the time source used for probe timestamps and latency.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

// Monitor probes every configured endpoint once per interval. Cycles never
// overlap: a cycle ends when every probe has answered or timed out.
type Monitor struct {
	prober Prober
	logger *slog.Logger
	now    func() time.Time

	mutex     sync.RWMutex
	settings  Settings
	endpoints []endpoint.Endpoint
	records   map[string]*record
	listeners []Listener
	closed    bool
	started   bool
	cancel    context.CancelFunc

	cycleMutex  sync.Mutex
	reconfigure chan time.Duration
	done        chan struct{}
	closeOnce   sync.Once
}

func NewMonitor(prober Prober, settings Settings, logger *slog.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		prober:      prober,
		logger:      logger,
		now:         time.Now,
		settings:    settings,
		records:     make(map[string]*record),
		reconfigure: make(chan time.Duration, 1),
		done:        make(chan struct{}),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// SetEndpoints replaces the monitored set. Endpoints that stay keep their
// history; removed ones are discarded. The next cycle uses the new set.
func (m *Monitor) SetEndpoints(endpoints []endpoint.Endpoint) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	records := make(map[string]*record, len(endpoints))
	for _, ep := range endpoints {
		if rec, ok := m.records[ep.URL()]; ok {
			records[ep.URL()] = rec
			continue
		}
		records[ep.URL()] = &record{history: newHistory(m.settings.MaxHistory)}
	}

	m.records = records
	m.endpoints = append([]endpoint.Endpoint(nil), endpoints...)
}

// SetSettings applies new thresholds. A changed interval restarts the ticker
// and a smaller history capacity drops the oldest entries.
func (m *Monitor) SetSettings(s Settings) {
	m.mutex.Lock()
	previous := m.settings
	m.settings = s
	for _, rec := range m.records {
		rec.history.resize(s.MaxHistory)
	}
	m.mutex.Unlock()

	if s.Interval == previous.Interval || s.Interval <= 0 {
		return
	}

	select {
	case <-m.reconfigure:
	default:
	}
	select {
	case m.reconfigure <- s.Interval:
	default:
	}
}

func (m *Monitor) AddListener(l Listener) {
	if l == nil {
		return
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.listeners = append(m.listeners, l)
}

// Start runs a first cycle right away and then one per interval until ctx
// ends or Close is called. Only the first call has an effect.
func (m *Monitor) Start(ctx context.Context) {
	m.mutex.Lock()
	if m.started || m.closed {
		m.mutex.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.started = true
	m.cancel = cancel
	interval := m.settings.Interval
	m.mutex.Unlock()

	go m.run(ctx, interval)
}

// Close stops the scheduler and waits for it to exit. Results of probes
// still outstanding are discarded. It is safe to call more than once.
func (m *Monitor) Close() {
	m.closeOnce.Do(func() {
		m.mutex.Lock()
		m.closed = true
		cancel := m.cancel
		started := m.started
		m.mutex.Unlock()

		if !started {
			return
		}

		cancel()
		<-m.done
	})
}

// CheckNow runs one probe cycle and returns when it completes. It returns
// the context error when ctx ends before every probe has answered; results
// of that cycle are discarded.
func (m *Monitor) CheckNow(ctx context.Context) error {
	return m.runCycle(ctx)
}

func (m *Monitor) run(ctx context.Context, interval time.Duration) {
	defer close(m.done)

	if interval <= 0 {
		interval = defaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("Health monitor started", slog.Duration("interval", interval))
	m.cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Health monitor stopped")
			return
		case d := <-m.reconfigure:
			ticker.Reset(d)
			m.logger.Info("Health check interval changed", slog.Duration("interval", d))
		case <-ticker.C:
			m.cycle(ctx)
		}
	}
}

func (m *Monitor) cycle(ctx context.Context) {
	if err := m.runCycle(ctx); err != nil {
		m.logger.Debug("Probe cycle interrupted", slog.Any("err", err))
	}
}

func (m *Monitor) runCycle(ctx context.Context) error {
	m.cycleMutex.Lock()
	defer m.cycleMutex.Unlock()

	m.mutex.RLock()
	if m.closed {
		m.mutex.RUnlock()
		return nil
	}
	targets := make([]target, 0, len(m.endpoints))
	for _, ep := range m.endpoints {
		targets = append(targets, target{endpoint: ep, record: m.records[ep.URL()]})
	}
	timeout := m.settings.Timeout
	m.mutex.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range targets {
		g.Go(func() error {
			result, ok := m.probe(gctx, t.endpoint, timeout)
			if !ok {
				return gctx.Err()
			}
			m.apply(t, result)
			return nil
		})
	}
	return g.Wait()
}

// probe reports false when ctx itself ended, in which case nothing is
// recorded.
func (m *Monitor) probe(ctx context.Context, ep endpoint.Endpoint, timeout time.Duration) (ProbeResult, bool) {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := m.now()
	errCh := make(chan error, 1)
	go func() {
		errCh <- m.prober.Probe(probeCtx, ep)
	}()

	var err error
	select {
	case err = <-errCh:
	case <-probeCtx.Done():
		err = probeCtx.Err()
	}

	if ctx.Err() != nil {
		return ProbeResult{}, false
	}

	result := ProbeResult{
		Timestamp: start,
		Success:   err == nil,
		LatencyMs: m.now().Sub(start).Milliseconds(),
	}
	if err != nil {
		result.ErrorKind = Classify(err)
		m.logger.Debug("Probe failed",
			slog.String("endpoint", ep.URL()),
			slog.String("kind", string(result.ErrorKind)),
			slog.String("error", err.Error()))
	}

	return result, true
}

func (m *Monitor) apply(t target, result ProbeResult) {
	url := t.endpoint.URL()

	m.mutex.Lock()
	rec := t.record
	if m.closed || rec == nil || m.records[url] != rec {
		m.mutex.Unlock()
		return
	}

	rec.history.push(result)
	from := rec.status
	if result.Success {
		rec.consecutiveFailures = 0
		rec.status = endpoint.StatusHealthy
	} else {
		rec.consecutiveFailures++
		if rec.consecutiveFailures >= m.settings.FailureThreshold {
			rec.status = endpoint.StatusUnhealthy
		}
	}
	to := rec.status
	failures := rec.consecutiveFailures
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mutex.Unlock()

	if from == to {
		return
	}

	if to == endpoint.StatusHealthy {
		m.logger.Info("Endpoint is healthy", slog.String("endpoint", url), slog.String("from", from.String()))
	} else {
		m.logger.Warn("Endpoint is down",
			slog.String("endpoint", url),
			slog.Int("consecutive_failures", failures))
	}

	for _, l := range listeners {
		m.deliver(l, url, from, to)
	}
}

func (m *Monitor) deliver(l Listener, url string, from, to endpoint.Status) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("Health listener panicked", slog.String("endpoint", url), slog.Any("panic", rec))
		}
	}()

	l.OnHealthChanged(url, from, to)
}

// Status returns the endpoint's classification; unmonitored endpoints are
// unknown.
func (m *Monitor) Status(url string) endpoint.Status {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if rec, ok := m.records[url]; ok {
		return rec.status
	}
	return endpoint.StatusUnknown
}

// StatusSnapshot captures every status at once so callers rank candidates
// against a consistent view.
func (m *Monitor) StatusSnapshot() endpoint.StatusFunc {
	m.mutex.RLock()
	statuses := make(map[string]endpoint.Status, len(m.records))
	for url, rec := range m.records {
		statuses[url] = rec.status
	}
	m.mutex.RUnlock()

	return func(url string) endpoint.Status {
		return statuses[url]
	}
}

// GetBestEndpoint returns the highest priority healthy candidate, else the
// highest priority unknown one. It reports false when every candidate is
// known to be unhealthy.
func (m *Monitor) GetBestEndpoint(candidates []endpoint.Endpoint) (endpoint.Endpoint, bool) {
	status := m.StatusSnapshot()

	if best, ok := endpoint.Best(candidates, status, endpoint.StatusHealthy); ok {
		return best, true
	}
	return endpoint.Best(candidates, status, endpoint.StatusUnknown)
}

// Endpoints returns a copy of the monitored set.
func (m *Monitor) Endpoints() []endpoint.Endpoint {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return append([]endpoint.Endpoint(nil), m.endpoints...)
}

func (m *Monitor) Record(url string) (Record, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for _, ep := range m.endpoints {
		if ep.URL() == url {
			return m.snapshot(ep), true
		}
	}
	return Record{}, false
}

// Snapshot returns a copy of every record in configured order.
func (m *Monitor) Snapshot() []Record {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	records := make([]Record, 0, len(m.endpoints))
	for _, ep := range m.endpoints {
		records = append(records, m.snapshot(ep))
	}
	return records
}

func (m *Monitor) snapshot(ep endpoint.Endpoint) Record {
	rec := m.records[ep.URL()]
	return Record{
		Endpoint:            ep.URL(),
		Priority:            ep.Priority(),
		Fallback:            ep.IsFallback(),
		Status:              rec.status,
		ConsecutiveFailures: rec.consecutiveFailures,
		History:             rec.history.list(),
	}
}
