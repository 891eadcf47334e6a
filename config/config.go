package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"

	"github.com/angeloszaimis/rpc-failover/internal/circuitbreaker"
	"github.com/angeloszaimis/rpc-failover/internal/endpoint"
	"github.com/angeloszaimis/rpc-failover/internal/healthcheck"
	"github.com/angeloszaimis/rpc-failover/internal/retry"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

type ServerConfig struct {
	Address     string `mapstructure:"address"`
	Environment string `mapstructure:"environment"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type HealthCheckConfig struct {
	Interval         string `mapstructure:"interval"`
	Timeout          string `mapstructure:"timeout"`
	FailureThreshold int    `mapstructure:"failure_threshold"`
	MaxHistory       int    `mapstructure:"max_history"`
	Method           string `mapstructure:"method"`
}

type CircuitBreakerConfig struct {
	ResetTimeout        string `mapstructure:"reset_timeout"`
	ConsecutiveFailures int    `mapstructure:"consecutive_failures"`
}

// RetryConfig leaves Enabled nil when unset so the environment decides.
type RetryConfig struct {
	Enabled      *bool  `mapstructure:"enabled"`
	MaxAttempts  int    `mapstructure:"max_attempts"`
	InitialDelay string `mapstructure:"initial_delay"`
	MaxDelay     string `mapstructure:"max_delay"`
}

type EndpointConfig struct {
	URL      string `mapstructure:"url"`
	Priority int    `mapstructure:"priority"`
	Fallback bool   `mapstructure:"fallback"`
}

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	HealthCheck    HealthCheckConfig    `mapstructure:"health_check"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Retry          RetryConfig          `mapstructure:"retry"`
	Endpoints      []EndpointConfig     `mapstructure:"endpoints"`
}

// Resolved is a validated configuration with durations parsed and defaults
// that depend on other keys applied. It is never modified once published.
type Resolved struct {
	Address        string
	Environment    string
	LogLevel       string
	ProbeMethod    string
	HealthCheck    healthcheck.Settings
	CircuitBreaker circuitbreaker.Settings
	Retry          retry.Settings
	Endpoints      []endpoint.Endpoint
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.address", ":8545")
	v.SetDefault("logging.level", LogLevelInfo)
	v.SetDefault("health_check.interval", "30s")
	v.SetDefault("health_check.timeout", "5s")
	v.SetDefault("health_check.failure_threshold", 3)
	v.SetDefault("health_check.max_history", 100)
	v.SetDefault("health_check.method", "getHealth")
	v.SetDefault("circuit_breaker.reset_timeout", "60s")
	v.SetDefault("circuit_breaker.consecutive_failures", 3)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_delay", "100ms")
	v.SetDefault("retry.max_delay", "5s")
}

// Load reads config.yaml from ./config or the working directory, applies
// environment overrides and validates the result.
func Load() (*Config, error) {
	return NewLoader("", slog.Default()).Load()
}

// Loader owns a viper instance so a running service can reload the same
// file it started from.
type Loader struct {
	viper  *viper.Viper
	logger *slog.Logger
}

// NewLoader reads path when given, otherwise it searches for config.yaml.
func NewLoader(path string, logger *slog.Logger) *Loader {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return &Loader{viper: v, logger: logger}
}

// ConfigFileUsed returns the file read by Load, or "" when running on
// defaults and environment variables only.
func (l *Loader) ConfigFileUsed() string {
	return l.viper.ConfigFileUsed()
}

func (l *Loader) Load() (*Config, error) {
	if err := l.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			l.logger.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		l.logger.Warn("config file not found, using defaults and environment variables")
	} else {
		l.logger.Info("loaded config file", slog.String("file", l.viper.ConfigFileUsed()))
	}

	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.viper.Unmarshal(&cfg); err != nil {
		l.logger.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		l.logger.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

// Watch republishes into store every time the config file changes to a
// valid configuration. Invalid changes are logged and the current
// configuration stays in effect. It needs a config file to have been read.
func (l *Loader) Watch(store *Store) {
	var last *Config

	l.viper.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.decode()
		if err != nil {
			l.logger.Warn("ignoring config change", slog.String("file", e.Name), slog.String("error", err.Error()))
			return
		}
		if last != nil && reflect.DeepEqual(cfg, last) {
			return
		}

		resolved, err := cfg.Resolve()
		if err != nil {
			l.logger.Warn("ignoring config change", slog.String("file", e.Name), slog.String("error", err.Error()))
			return
		}

		last = cfg
		l.logger.Info("config reloaded", slog.String("file", e.Name), slog.Int("endpoints", len(resolved.Endpoints)))
		store.Publish(resolved)
	})
	l.viper.WatchConfig()
}

// Resolve parses durations and builds the component settings.
func (c *Config) Resolve() (*Resolved, error) {
	interval, err := time.ParseDuration(c.HealthCheck.Interval)
	if err != nil {
		return nil, fmt.Errorf("health_check.interval: %w", err)
	}
	timeout, err := time.ParseDuration(c.HealthCheck.Timeout)
	if err != nil {
		return nil, fmt.Errorf("health_check.timeout: %w", err)
	}
	resetTimeout, err := time.ParseDuration(c.CircuitBreaker.ResetTimeout)
	if err != nil {
		return nil, fmt.Errorf("circuit_breaker.reset_timeout: %w", err)
	}
	initialDelay, err := time.ParseDuration(c.Retry.InitialDelay)
	if err != nil {
		return nil, fmt.Errorf("retry.initial_delay: %w", err)
	}
	maxDelay, err := time.ParseDuration(c.Retry.MaxDelay)
	if err != nil {
		return nil, fmt.Errorf("retry.max_delay: %w", err)
	}

	enabled := c.Server.Environment == EnvProd
	if c.Retry.Enabled != nil {
		enabled = *c.Retry.Enabled
	}

	endpoints := make([]endpoint.Endpoint, 0, len(c.Endpoints))
	for _, e := range c.Endpoints {
		endpoints = append(endpoints, endpoint.New(e.URL, e.Priority, e.Fallback))
	}

	return &Resolved{
		Address:     c.Server.Address,
		Environment: c.Server.Environment,
		LogLevel:    c.Logging.Level,
		ProbeMethod: c.HealthCheck.Method,
		HealthCheck: healthcheck.Settings{
			Interval:         interval,
			Timeout:          timeout,
			FailureThreshold: c.HealthCheck.FailureThreshold,
			MaxHistory:       c.HealthCheck.MaxHistory,
		},
		CircuitBreaker: circuitbreaker.Settings{
			ConsecutiveFailures: c.CircuitBreaker.ConsecutiveFailures,
			ResetTimeout:        resetTimeout,
		},
		Retry: retry.Settings{
			Enabled:      enabled,
			MaxAttempts:  c.Retry.MaxAttempts,
			InitialDelay: initialDelay,
			MaxDelay:     maxDelay,
		},
		Endpoints: endpoints,
	}, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Address,
						validation.Required,
						validation.By(validateHostPort),
					),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.HealthCheck,
			validation.Required,
			validation.By(func(value interface{}) error {
				hc, ok := value.(HealthCheckConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a HealthCheckConfig")
				}
				return validation.ValidateStruct(&hc,
					validation.Field(&hc.Interval, validation.Required, validation.By(validatePositiveDuration)),
					validation.Field(&hc.Timeout, validation.Required, validation.By(validatePositiveDuration)),
					validation.Field(&hc.FailureThreshold, validation.Required, validation.Min(1)),
					validation.Field(&hc.MaxHistory, validation.Required, validation.Min(1)),
					validation.Field(&hc.Method, validation.Required),
				)
			}),
		),
		validation.Field(&c.CircuitBreaker,
			validation.Required,
			validation.By(func(value interface{}) error {
				cb, ok := value.(CircuitBreakerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a CircuitBreakerConfig")
				}
				return validation.ValidateStruct(&cb,
					validation.Field(&cb.ResetTimeout, validation.Required, validation.By(validatePositiveDuration)),
					validation.Field(&cb.ConsecutiveFailures, validation.Required, validation.Min(1)),
				)
			}),
		),
		validation.Field(&c.Retry,
			validation.By(func(value interface{}) error {
				rc, ok := value.(RetryConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a RetryConfig")
				}
				return validation.ValidateStruct(&rc,
					validation.Field(&rc.MaxAttempts, validation.Required, validation.Min(1)),
					validation.Field(&rc.InitialDelay, validation.Required, validation.By(validatePositiveDuration)),
					validation.Field(&rc.MaxDelay, validation.Required, validation.By(validatePositiveDuration)),
				)
			}),
		),
		validation.Field(&c.Endpoints,
			validation.Required,
			validation.Length(1, 0),
			validation.Each(validation.By(validateEndpointConfig)),
			validation.By(validateUniqueURLs),
		),
	)
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validatePositiveDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}

	if d <= 0 {
		return validation.NewError("validation_non_positive_duration", "must be greater than zero")
	}

	return nil
}

func validateEndpointConfig(value interface{}) error {
	ep, ok := value.(EndpointConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be an EndpointConfig")
	}

	if ep.URL == "" {
		return validation.NewError("validation_empty_url", "endpoint URL cannot be empty")
	}

	parsedURL, err := url.Parse(ep.URL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	switch parsedURL.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return validation.NewError("validation_invalid_scheme", "URL must use http, https, ws or wss scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	if ep.Priority < 0 {
		return validation.NewError("validation_invalid_priority", "priority cannot be negative")
	}

	return nil
}

func validateUniqueURLs(value interface{}) error {
	endpoints, ok := value.([]EndpointConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a list of EndpointConfig")
	}

	seen := make(map[string]struct{}, len(endpoints))
	for _, ep := range endpoints {
		if _, dup := seen[ep.URL]; dup {
			return validation.NewError("validation_duplicate_url", fmt.Sprintf("endpoint %s is listed more than once", ep.URL))
		}
		seen[ep.URL] = struct{}{}
	}

	return nil
}
