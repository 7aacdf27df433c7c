package server

import (
	"testing"
	"time"

	"github.com/salachat/server/internal/registry"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	if cfg.Port != ":8080" {
		t.Errorf("Port = %q, want :8080", cfg.Port)
	}
	if cfg.GracePeriod != registry.DefaultGracePeriod {
		t.Errorf("GracePeriod = %v, want %v", cfg.GracePeriod, registry.DefaultGracePeriod)
	}
	if cfg.RateLimit.Burst <= 0 || cfg.RateLimit.RefillInterval <= 0 {
		t.Errorf("rate limit defaults not set: %+v", cfg.RateLimit)
	}
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("SERVER_PORT", ":9999")
	t.Setenv("ALLOWED_ORIGINS", "https://chat.example.com, https://otra.example.com")
	t.Setenv("MAX_MESSAGE_SIZE", "1024")
	t.Setenv("ROOM_GRACE_PERIOD", "30")
	t.Setenv("RATE_LIMIT_BURST", "3")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2")

	cfg := NewConfigFromEnv()

	if cfg.Env != "prod" {
		t.Errorf("Env = %q, want prod", cfg.Env)
	}
	if cfg.Port != ":9999" {
		t.Errorf("Port = %q, want :9999", cfg.Port)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://otra.example.com" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.MaxMessageSize != 1024 {
		t.Errorf("MaxMessageSize = %d, want 1024", cfg.MaxMessageSize)
	}
	if cfg.GracePeriod != 30*time.Second {
		t.Errorf("GracePeriod = %v, want 30s", cfg.GracePeriod)
	}
	if cfg.RateLimit.Burst != 3 || cfg.RateLimit.RefillInterval != 2*time.Second {
		t.Errorf("RateLimit = %+v", cfg.RateLimit)
	}
}

func TestNewConfigFromEnvIgnoresGarbage(t *testing.T) {
	t.Setenv("MAX_MESSAGE_SIZE", "not-a-number")
	t.Setenv("RATE_LIMIT_BURST", "-5")

	cfg := NewConfigFromEnv()

	if cfg.MaxMessageSize != defaultConfig().MaxMessageSize {
		t.Errorf("garbage MAX_MESSAGE_SIZE accepted: %d", cfg.MaxMessageSize)
	}
	if cfg.RateLimit.Burst != defaultConfig().RateLimit.Burst {
		t.Errorf("negative RATE_LIMIT_BURST accepted: %d", cfg.RateLimit.Burst)
	}
}

func TestSetConfigSanitizes(t *testing.T) {
	t.Cleanup(func() { SetConfig(nil) })

	SetConfig(&Config{
		Port:           "",
		MaxMessageSize: -1,
		GracePeriod:    -time.Minute,
		RateLimit:      RateLimitConfig{Burst: 0, RefillInterval: 0},
	})

	cfg := currentConfig()
	if cfg.Port != ":8080" {
		t.Errorf("empty port not defaulted: %q", cfg.Port)
	}
	if cfg.MaxMessageSize <= 0 {
		t.Errorf("invalid max message size not defaulted: %d", cfg.MaxMessageSize)
	}
	if cfg.GracePeriod != registry.DefaultGracePeriod {
		t.Errorf("negative grace period not defaulted: %v", cfg.GracePeriod)
	}
	if cfg.RateLimit.Burst <= 0 || cfg.RateLimit.RefillInterval <= 0 {
		t.Errorf("rate limit not sanitized: %+v", cfg.RateLimit)
	}
}
