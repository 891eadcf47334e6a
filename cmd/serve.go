package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/angeloszaimis/rpc-failover/config"
	"github.com/angeloszaimis/rpc-failover/internal/healthcheck"
	"github.com/angeloszaimis/rpc-failover/internal/httpserver"
	"github.com/angeloszaimis/rpc-failover/internal/retry"
	"github.com/angeloszaimis/rpc-failover/pkg/logger"
)

const attemptBudget = 60 * time.Second

// proxyWriteTimeout leaves room for every backoff wait on every endpoint on
// top of the budget of a single attempt. It is fixed at startup.
func proxyWriteTimeout(resolved *config.Resolved) time.Duration {
	timeout := attemptBudget
	if !resolved.Retry.Enabled {
		return timeout
	}

	var waits time.Duration
	for _, d := range retry.Schedule(resolved.Retry) {
		waits += d
	}
	return timeout + time.Duration(len(resolved.Endpoints))*waits
}

func runServe(parent context.Context, opts *options) error {
	loader, resolved, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(resolved.LogLevel, true, resolved.Environment)

	ctx, cancel := signalContext(parent)
	defer cancel()

	prober := healthcheck.NewRPCProber(&http.Client{}, resolved.ProbeMethod)
	a := newApp(resolved, prober, log)

	store := config.NewStore(resolved)
	store.Subscribe(a.apply)
	if loader.ConfigFileUsed() != "" {
		loader.Watch(store)
	}

	srv, err := httpserver.New(resolved.Address, a.router(),
		httpserver.WithWriteTimeout(proxyWriteTimeout(resolved)))
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		return err
	}

	a.start(ctx)
	defer a.close()

	log.Info("Proxy listening",
		slog.String("address", resolved.Address),
		slog.Int("endpoints", len(resolved.Endpoints)),
		slog.Bool("retry_enabled", resolved.Retry.Enabled))

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Error starting proxy", slog.Any("err", err))
			return err
		}
	}

	return nil
}
