package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

const (
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 60 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// Server wraps http.Server with validation and graceful shutdown.
type Server struct {
	server          *http.Server
	shutdownTimeout time.Duration
}

type Option func(*Server)

// WithWriteTimeout bounds how long a handler may take to write its answer.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.server.WriteTimeout = d
	}
}

func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.shutdownTimeout = d
	}
}

// New validates addr and builds a server for handler.
func New(addr string, handler http.Handler, opts ...Option) (*Server, error) {
	if err := validation.Validate(addr, validation.Required, validation.By(validateHost)); err != nil {
		return nil, err
	}

	srv := &Server{
		server: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  defaultReadTimeout,
			WriteTimeout: defaultWriteTimeout,
			IdleTimeout:  defaultIdleTimeout,
		},
		shutdownTimeout: defaultShutdownTimeout,
	}

	for _, opt := range opts {
		opt(srv)
	}

	return srv, nil
}

func (s *Server) Addr() string {
	return s.server.Addr
}

// Start listens on the configured address. It returns nil once the server
// has been shut down.
func (s *Server) Start() error {
	err := s.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Shutdown waits for in-flight requests up to the shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

func validateHost(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cant be empty")
	}

	if err := is.Port.Validate(port); err != nil {
		return validation.NewError("validation_invalid_port", "invalid port")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}
