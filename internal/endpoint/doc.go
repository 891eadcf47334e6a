// Package endpoint defines the immutable RPC endpoint value shared by the
// health monitor, the retry executor and the failover orchestrator, together
// with the health status classification and the candidate ranking rules.
package endpoint
