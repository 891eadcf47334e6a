// Package config loads the service configuration from YAML files and
// environment variables, validates it, and publishes reloaded versions to
// the running components. It covers the server, logging, health check,
// circuit breaker and retry settings plus the endpoint list.
package config
