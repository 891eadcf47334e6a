// Package retry runs an operation against a single endpoint with bounded
// retries, capped exponential backoff and the endpoint's circuit breaker.
//
// The delay before attempt n (n >= 2) is min(initial * 2^(n-2), max). When the
// breaker opens during the loop the executor stops immediately with
// ErrCircuitOpen instead of exhausting the remaining attempts. With retries
// disabled every call is attempted exactly once and breakers are left alone.
package retry
