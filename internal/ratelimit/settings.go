package ratelimit

import (
	"strings"
	"time"

	"github.com/vortixworld/bypassgate/internal/config"
	"github.com/vortixworld/bypassgate/internal/settings"
)

// SettingsConfig captures the limiter configuration snapshot.
type SettingsConfig struct {
	Limit        int
	Window       time.Duration
	RedisEnabled bool
	RedisURL     string
	RedisPrefix  string
}

// SettingsFromConfig converts the rate-limit section of the app config.
func SettingsFromConfig(cfg config.RateLimitConfig) SettingsConfig {
	out := SettingsConfig{
		Limit:        cfg.MaxRequests,
		Window:       cfg.Window,
		RedisEnabled: cfg.RedisEnabled,
		RedisURL:     strings.TrimSpace(cfg.RedisURL),
		RedisPrefix:  strings.TrimSpace(cfg.RedisPrefix),
	}
	if out.Limit <= 0 {
		out.Limit = settings.DefaultRateLimitMaxRequests
	}
	if out.Window <= 0 {
		out.Window = settings.DefaultRateLimitWindow
	}
	if out.RedisPrefix == "" {
		out.RedisPrefix = settings.DefaultRateLimitRedisPrefix
	}
	return out
}

// StaticSettings returns a SettingsProvider that always yields cfg.
func StaticSettings(cfg SettingsConfig) SettingsProvider {
	return func() SettingsConfig { return cfg }
}
