package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all server configuration.
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
type Config struct {
	// Server basics
	Addr    string `env:"CHATD_ADDR" envDefault:":8080"`
	NATSURL string `env:"CHATD_NATS_URL" envDefault:"nats://localhost:4222"`

	// Auth
	JWTSecret     string        `env:"CHATD_JWT_SECRET"`
	TokenDuration time.Duration `env:"CHATD_TOKEN_DURATION" envDefault:"24h"`

	// Capacity
	MaxConnections int `env:"CHATD_MAX_CONNECTIONS" envDefault:"10000"`
	SendQueueSize  int `env:"CHATD_SEND_QUEUE_SIZE" envDefault:"256"`

	// Per-connection lifecycle
	IdleTimeout   time.Duration `env:"CHATD_IDLE_TIMEOUT" envDefault:"60s"`
	WriteTimeout  time.Duration `env:"CHATD_WRITE_TIMEOUT" envDefault:"5s"`
	PingInterval  time.Duration `env:"CHATD_PING_INTERVAL" envDefault:"30s"`
	MaxFrameBytes int           `env:"CHATD_MAX_FRAME_BYTES" envDefault:"4096"`

	// Per-connection inbound frame rate limiting
	FrameRate  int `env:"CHATD_FRAME_RATE" envDefault:"10"`
	FrameBurst int `env:"CHATD_FRAME_BURST" envDefault:"100"`

	// Connection-attempt rate limiting
	ConnRatePerIP  int           `env:"CHATD_CONN_RATE_PER_IP" envDefault:"10"`
	ConnBurstPerIP int           `env:"CHATD_CONN_BURST_PER_IP" envDefault:"20"`
	ConnRateGlobal int           `env:"CHATD_CONN_RATE_GLOBAL" envDefault:"500"`
	ConnLimiterTTL time.Duration `env:"CHATD_CONN_LIMITER_TTL" envDefault:"10m"`

	// Contacts resolution
	ContactsTimeout time.Duration `env:"CHATD_CONTACTS_TIMEOUT" envDefault:"2s"`

	// Shutdown
	ShutdownGrace time.Duration `env:"CHATD_SHUTDOWN_GRACE" envDefault:"30s"`

	// Monitoring
	MetricsInterval time.Duration `env:"METRICS_INTERVAL" envDefault:"15s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Environment
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// LoadConfig reads configuration from a .env file and environment variables.
// Priority: ENV vars > .env file > defaults.
func LoadConfig(logger *zerolog.Logger) (*Config, error) {
	// The .env file is a development convenience; production deployments set
	// environment variables directly.
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("No .env file found (using environment variables only)")
		}
	} else if logger != nil {
		logger.Info().Msg("Loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("CHATD_ADDR is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("CHATD_JWT_SECRET is required")
	}
	if c.NATSURL == "" {
		return fmt.Errorf("CHATD_NATS_URL is required")
	}

	if c.MaxConnections < 1 {
		return fmt.Errorf("CHATD_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.SendQueueSize < 1 {
		return fmt.Errorf("CHATD_SEND_QUEUE_SIZE must be > 0, got %d", c.SendQueueSize)
	}
	if c.MaxFrameBytes < 1 {
		return fmt.Errorf("CHATD_MAX_FRAME_BYTES must be > 0, got %d", c.MaxFrameBytes)
	}
	if c.FrameRate < 1 || c.FrameBurst < 1 {
		return fmt.Errorf("CHATD_FRAME_RATE and CHATD_FRAME_BURST must be > 0, got %d and %d",
			c.FrameRate, c.FrameBurst)
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("CHATD_IDLE_TIMEOUT must be > 0, got %s", c.IdleTimeout)
	}
	if c.PingInterval >= c.IdleTimeout {
		return fmt.Errorf("CHATD_PING_INTERVAL (%s) must be < CHATD_IDLE_TIMEOUT (%s)",
			c.PingInterval, c.IdleTimeout)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}

	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}

	return nil
}

// LogConfig logs the effective configuration at startup.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("addr", c.Addr).
		Str("nats_url", c.NATSURL).
		Int("max_connections", c.MaxConnections).
		Int("send_queue_size", c.SendQueueSize).
		Dur("idle_timeout", c.IdleTimeout).
		Dur("write_timeout", c.WriteTimeout).
		Dur("ping_interval", c.PingInterval).
		Int("max_frame_bytes", c.MaxFrameBytes).
		Int("frame_rate", c.FrameRate).
		Int("frame_burst", c.FrameBurst).
		Int("conn_rate_per_ip", c.ConnRatePerIP).
		Int("conn_rate_global", c.ConnRateGlobal).
		Dur("contacts_timeout", c.ContactsTimeout).
		Dur("shutdown_grace", c.ShutdownGrace).
		Dur("metrics_interval", c.MetricsInterval).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("Server configuration loaded")
}
