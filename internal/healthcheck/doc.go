// Package healthcheck implements periodic health probing for RPC endpoints.
// It keeps a bounded probe history per endpoint, classifies endpoints as
// healthy, unhealthy or unknown, and notifies listeners when a classification
// flips.
package healthcheck
