// Package httpserver runs the proxy's HTTP listener with validated
// addresses and bounded graceful shutdown.
package httpserver
