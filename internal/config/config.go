// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Push bus drivers.
const (
	PushBusLocal = "local"
	PushBusRedis = "redis"
	PushBusNATS  = "nats"
)

// Metrics backends.
const (
	MetricsPrometheus = "prometheus"
	MetricsMemory     = "memory"
)

// Config holds all application configuration.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Storage
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL string `env:"DATABASE_URL"`

	// Postgres connection pool
	DBMaxConns        int32         `env:"DB_MAX_CONNS" envDefault:"20"`
	DBMinConns        int32         `env:"DB_MIN_CONNS" envDefault:"2"`
	DBMaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`
	DBMaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"30m"`

	// Redis backs the redis push bus and the connect rate limiter.
	RedisURL string `env:"REDIS_URL"`

	// Push fan-out between instances
	PushBus     string `env:"PUSH_BUS" envDefault:"local"`
	PushChannel string `env:"PUSH_CHANNEL" envDefault:"entitlements.push"`
	NATSURL     string `env:"NATS_URL" envDefault:"nats://127.0.0.1:4222"`

	// Metrics
	MetricsBackend string `env:"METRICS_BACKEND" envDefault:"prometheus"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Plan expiry
	ExpirySweepInterval time.Duration `env:"EXPIRY_SWEEP_INTERVAL" envDefault:"1m"`
	ExpiryBatchSize     int           `env:"EXPIRY_BATCH_SIZE" envDefault:"100"`
	PlanDefaultDuration time.Duration `env:"PLAN_DEFAULT_DURATION" envDefault:"720h"`

	// Push connections
	PushSendBuffer   int           `env:"PUSH_SEND_BUFFER" envDefault:"16"`
	PushWriteTimeout time.Duration `env:"PUSH_WRITE_TIMEOUT" envDefault:"5s"`
	PushPingInterval time.Duration `env:"PUSH_PING_INTERVAL" envDefault:"30s"`

	// Semicolon-separated argon2id hashes of collaborator service keys.
	// Empty disables the check outside production.
	ServiceKeyHashes []string `env:"SERVICE_KEY_HASHES" envSeparator:";"`

	// Push connect rate limiting (per principal)
	RateLimitConnectEnabled   bool `env:"RATE_LIMIT_CONNECT_ENABLED" envDefault:"true"`
	RateLimitConnectPerMinute int  `env:"RATE_LIMIT_CONNECT_PER_MINUTE" envDefault:"30"`
	RateLimitConnectBurst     int  `env:"RATE_LIMIT_CONNECT_BURST" envDefault:"10"`

	// CORS configuration
	// Comma-separated list of allowed origins (e.g., "https://example.com,https://app.example.com")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}

	origins := strings.Split(c.CORSAllowedOrigins, ",")
	result := make([]string, 0, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// Validate checks cross-field constraints env tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case StoreDriverMemory:
		if c.IsProduction() {
			errs = append(errs, errors.New("the memory store is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	switch c.PushBus {
	case PushBusLocal:
	case PushBusRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis push bus"))
		}
	case PushBusNATS:
		if c.NATSURL == "" {
			errs = append(errs, errors.New("NATS_URL is required for the nats push bus"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown PUSH_BUS %q", c.PushBus))
	}

	if c.MetricsBackend != MetricsPrometheus && c.MetricsBackend != MetricsMemory {
		errs = append(errs, fmt.Errorf("unknown METRICS_BACKEND %q", c.MetricsBackend))
	}

	if c.ExpirySweepInterval <= 0 {
		errs = append(errs, errors.New("EXPIRY_SWEEP_INTERVAL must be positive"))
	}
	if c.ExpiryBatchSize <= 0 {
		errs = append(errs, errors.New("EXPIRY_BATCH_SIZE must be positive"))
	}
	if c.PlanDefaultDuration <= 0 {
		errs = append(errs, errors.New("PLAN_DEFAULT_DURATION must be positive"))
	}
	if c.PushSendBuffer <= 0 {
		errs = append(errs, errors.New("PUSH_SEND_BUFFER must be positive"))
	}
	if c.IsProduction() && len(c.ServiceKeyHashes) == 0 {
		errs = append(errs, errors.New("SERVICE_KEY_HASHES is required in production"))
	}

	return errors.Join(errs...)
}

// Load parses environment variables and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
