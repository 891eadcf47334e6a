// Package logger builds the service's structured logger on top of log/slog,
// emitting JSON in production and human readable text elsewhere.
package logger
