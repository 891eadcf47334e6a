package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New writes to stdout: JSON in prod, text otherwise.
func New(lvl string, addSource bool, environment string) *slog.Logger {
	return NewWithWriter(os.Stdout, lvl, addSource, environment)
}

func NewWithWriter(w io.Writer, lvl string, addSource bool, environment string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(lvl),
		AddSource: addSource,
	}

	var handler slog.Handler
	if strings.ToLower(environment) == "prod" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler).With(
		slog.String("environment", environment),
	)
}

// ParseLevel maps a config level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
