// Package circuitbreaker keeps one circuit breaker per RPC endpoint.
//
// A breaker stops sending calls to an endpoint that keeps failing. It has
// three states:
//
//   - CLOSED: normal operation, calls pass through
//   - OPEN: endpoint failing, calls rejected until the reset timeout elapses
//   - HALF-OPEN: exactly one trial call decides between CLOSED and OPEN
//
// Usage:
//
//	registry := circuitbreaker.NewRegistry(circuitbreaker.Settings{
//	    ConsecutiveFailures: 3,
//	    ResetTimeout:        time.Minute,
//	}, logger)
//	cb := registry.GetBreaker("https://rpc.example.org")
//	done, err := cb.Allow()
//	if err != nil {
//	    // fail fast
//	}
//	done(callErr == nil)
package circuitbreaker
