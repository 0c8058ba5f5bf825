package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected default config to validate, got: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty server address", func(c *Config) { c.Server.Address = "" }},
		{"zero read timeout", func(c *Config) { c.Server.ReadTimeout = 0 }},
		{"empty signal address", func(c *Config) { c.Signal.Address = "" }},
		{"zero ping interval", func(c *Config) { c.Signal.PingInterval = 0 }},
		{"half-open port range", func(c *Config) { c.WebRTC.PortRange.Min = 10000 }},
		{"inverted port range", func(c *Config) {
			c.WebRTC.PortRange.Min = 20000
			c.WebRTC.PortRange.Max = 10000
		}},
		{"empty display base url", func(c *Config) { c.Display.BaseURL = "" }},
		{"negative display handles", func(c *Config) { c.Display.MaxHandles = -1 }},
		{"zero mute timeout", func(c *Config) { c.Media.MuteSilenceTimeout = 0 }},
		{"zero dispatch queue", func(c *Config) { c.Dispatch.QueueSize = 0 }},
		{"empty log level", func(c *Config) { c.Logging.Level = "" }},
		{"redis enabled without address", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Address = ""
		}},
		{"redis enabled without channel", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Channel = ""
		}},
		{"empty jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }},
		{"zero token ttl", func(c *Config) { c.Auth.TokenTTL = 0 }},
		{"tracing sample rate out of range", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.SampleRate = 1.5
		}},
		{"rate limiting without rps", func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.HTTP.Burst = 10
			c.RateLimiting.WebSocket.MessagesPerSecond = 10
			c.RateLimiting.WebSocket.Burst = 10
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 0
	cfg.RateLimiting.HTTP.Burst = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 0
	cfg.RateLimiting.WebSocket.Burst = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected config to be valid when rate limiting disabled, got error: %v", err)
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Errorf("expected default server address, got %s", cfg.Server.Address)
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
server:
  address: ":9999"
signal:
  ping_interval: 5s
auth:
  jwt_secret: "from-yaml"
  token_ttl: 1h
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Address != ":9999" {
		t.Errorf("expected overridden server address, got %s", cfg.Server.Address)
	}
	if cfg.Signal.PingInterval != 5*time.Second {
		t.Errorf("expected 5s ping interval, got %s", cfg.Signal.PingInterval)
	}
	if cfg.Auth.TokenTTL != time.Hour {
		t.Errorf("expected 1h token ttl, got %s", cfg.Auth.TokenTTL)
	}
	// Untouched sections keep their defaults.
	if cfg.Dispatch.QueueSize != 256 {
		t.Errorf("expected default dispatch queue size, got %d", cfg.Dispatch.QueueSize)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CALLMESH_JWT_SECRET", "from-env")
	t.Setenv("CALLMESH_REDIS_ADDRESS", "redis:6379")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("expected env jwt secret, got %s", cfg.Auth.JWTSecret)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Address != "redis:6379" {
		t.Errorf("expected redis enabled via env, got enabled=%v address=%s", cfg.Redis.Enabled, cfg.Redis.Address)
	}
}
