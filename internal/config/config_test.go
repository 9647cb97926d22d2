package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Addr:           ":8080",
		NATSURL:        "nats://localhost:4222",
		JWTSecret:      "secret",
		MaxConnections: 100,
		SendQueueSize:  256,
		IdleTimeout:    60 * time.Second,
		WriteTimeout:   5 * time.Second,
		PingInterval:   30 * time.Second,
		MaxFrameBytes:  4096,
		FrameRate:      10,
		FrameBurst:     100,
		LogLevel:       "info",
		LogFormat:      "json",
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing jwt secret",
			mutate:  func(c *Config) { c.JWTSecret = "" },
			wantErr: "CHATD_JWT_SECRET",
		},
		{
			name:    "missing addr",
			mutate:  func(c *Config) { c.Addr = "" },
			wantErr: "CHATD_ADDR",
		},
		{
			name:    "missing nats url",
			mutate:  func(c *Config) { c.NATSURL = "" },
			wantErr: "CHATD_NATS_URL",
		},
		{
			name:    "zero max connections",
			mutate:  func(c *Config) { c.MaxConnections = 0 },
			wantErr: "CHATD_MAX_CONNECTIONS",
		},
		{
			name:    "zero send queue",
			mutate:  func(c *Config) { c.SendQueueSize = 0 },
			wantErr: "CHATD_SEND_QUEUE_SIZE",
		},
		{
			name:    "zero frame rate",
			mutate:  func(c *Config) { c.FrameRate = 0 },
			wantErr: "CHATD_FRAME_RATE",
		},
		{
			name:    "ping not below idle timeout",
			mutate:  func(c *Config) { c.PingInterval = c.IdleTimeout },
			wantErr: "CHATD_PING_INTERVAL",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.LogLevel = "verbose" },
			wantErr: "LOG_LEVEL",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.LogFormat = "xml" },
			wantErr: "LOG_FORMAT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error mentioning %s, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("CHATD_JWT_SECRET", "env-secret")
	t.Setenv("CHATD_MAX_CONNECTIONS", "42")
	t.Setenv("CHATD_IDLE_TIMEOUT", "90s")

	cfg, err := LoadConfig(nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.JWTSecret != "env-secret" {
		t.Fatalf("expected env-secret, got %q", cfg.JWTSecret)
	}
	if cfg.MaxConnections != 42 {
		t.Fatalf("expected 42 max connections, got %d", cfg.MaxConnections)
	}
	if cfg.IdleTimeout.Seconds() != 90 {
		t.Fatalf("expected 90s idle timeout, got %s", cfg.IdleTimeout)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
}
