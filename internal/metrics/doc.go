// Package metrics collects per-endpoint call statistics for the failover
// proxy.
//
// Events flow through a buffered channel into a single collector goroutine:
//   - proxied call attempts with latency and outcome
//   - fallbacks from one endpoint to the next
//   - health status flips from the health monitor
//   - circuit breaker transitions
//
// The Collector implements the listener interfaces of the healthcheck and
// circuitbreaker packages and the failover observer, so it can be registered
// directly. Sends never block; events that do not fit the buffer are dropped
// and counted in the snapshot.
//
//	collector := metrics.NewCollector(1000, logger)
//	collector.Start(ctx)
//	monitor.AddListener(collector)
//	registry.AddListener(collector)
//
//	snapshot := collector.Snapshot()
package metrics
