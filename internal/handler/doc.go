// Package handler implements the HTTP surface of the failover proxy: the
// JSON-RPC forwarding handler and the read-only status endpoint.
package handler
