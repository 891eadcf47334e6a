package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/angeloszaimis/rpc-failover/config"
	"github.com/angeloszaimis/rpc-failover/internal/circuitbreaker"
	"github.com/angeloszaimis/rpc-failover/internal/endpoint"
	"github.com/angeloszaimis/rpc-failover/internal/failover"
	"github.com/angeloszaimis/rpc-failover/internal/handler"
	"github.com/angeloszaimis/rpc-failover/internal/healthcheck"
	"github.com/angeloszaimis/rpc-failover/internal/metrics"
	"github.com/angeloszaimis/rpc-failover/internal/retry"
)

const metricsBufferSize = 1000

// app holds the long-lived components of a running proxy.
type app struct {
	logger       *slog.Logger
	monitor      *healthcheck.Monitor
	registry     *circuitbreaker.Registry
	executor     *retry.Executor
	orchestrator *failover.Orchestrator
	collector    *metrics.Collector
	client       *http.Client
}

func newApp(cfg *config.Resolved, prober healthcheck.Prober, log *slog.Logger) *app {
	collector := metrics.NewCollector(metricsBufferSize, log)

	monitor := healthcheck.NewMonitor(prober, cfg.HealthCheck, log)
	monitor.AddListener(collector)
	monitor.SetEndpoints(cfg.Endpoints)

	registry := circuitbreaker.NewRegistry(cfg.CircuitBreaker, log)
	registry.AddListener(collector)

	executor := retry.NewExecutor(registry, cfg.Retry, log)
	orchestrator := failover.NewOrchestrator(cfg.Endpoints, monitor, executor, log, failover.WithObserver(collector))

	return &app{
		logger:       log,
		monitor:      monitor,
		registry:     registry,
		executor:     executor,
		orchestrator: orchestrator,
		collector:    collector,
		client:       &http.Client{},
	}
}

// apply pushes a reloaded configuration into every component. The listen
// address, log level, probe method and write timeout only change on restart.
func (a *app) apply(cfg *config.Resolved) {
	a.registry.Configure(cfg.CircuitBreaker)
	a.registry.Retain(endpoint.URLs(cfg.Endpoints))
	a.monitor.SetSettings(cfg.HealthCheck)
	a.monitor.SetEndpoints(cfg.Endpoints)
	a.executor.SetSettings(cfg.Retry)
	a.orchestrator.UpdateEndpoints(cfg.Endpoints)

	a.logger.Info("Configuration applied",
		slog.Int("endpoints", len(cfg.Endpoints)),
		slog.Bool("retry_enabled", cfg.Retry.Enabled))
}

func (a *app) start(ctx context.Context) {
	a.collector.Start(ctx)
	a.monitor.Start(ctx)
}

func (a *app) close() {
	a.orchestrator.Close()
	a.monitor.Close()
}

func (a *app) router() http.Handler {
	rpc := handler.NewRPCHandler(a.logger, a.orchestrator, a.client, a.collector)
	status := handler.NewStatusHandler(a.monitor, a.registry, a.orchestrator)
	return setupRouter(a.logger, rpc, status, a.collector.Handler())
}
