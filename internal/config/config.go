package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/vortixworld/bypassgate/internal/settings"
	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath     = "CONFIG_PATH"
	EnvPort           = "PORT"
	EnvAdminIP        = "ADMIN_IP"
	EnvAllowedOrigins = "ALLOWED_ORIGINS"
	EnvStoreDriver    = "STORE_DRIVER"
	EnvDBConnection   = "DB_CONNECTION"
	EnvRedisURL       = "REDIS_URL"
	EnvAbysmAPIKey    = "ABYSM_API_KEY"
	EnvLogLevel       = "LOG_LEVEL"
)

// Store drivers understood by the KV layer.
const (
	StoreDriverMemory   = "memory"
	StoreDriverDatabase = "database"
	StoreDriverRedis    = "redis"
)

// ErrMissingDatabaseDSN indicates the database store driver has no DSN.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `store.database-dsn` or DB_CONNECTION)")

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath string
}

// LoadFromEnv loads app config from environment variables.
func LoadFromEnv() (AppConfig, error) {
	return AppConfig{ConfigPath: ResolveConfigPath(os.Getenv(EnvConfigPath))}, nil
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// LoggingConfig controls the logrus output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StoreConfig selects and configures the key-value backend.
type StoreConfig struct {
	Driver      string `yaml:"driver"`
	DatabaseDSN string `yaml:"database-dsn"`
	RedisURL    string `yaml:"redis-url"`
	RedisPrefix string `yaml:"redis-prefix"`
}

// RateLimitConfig configures the per-caller sliding window.
type RateLimitConfig struct {
	Window       time.Duration `yaml:"window"`
	MaxRequests  int           `yaml:"max-requests"`
	RedisEnabled bool          `yaml:"redis-enabled"`
	RedisURL     string        `yaml:"redis-url"`
	RedisPrefix  string        `yaml:"redis-prefix"`
}

// BypassConfig configures the bypass endpoint.
type BypassConfig struct {
	RequireAPIKey   *bool         `yaml:"require-api-key"`
	UpstreamTimeout time.Duration `yaml:"upstream-timeout"`
	UserAgent       string        `yaml:"user-agent"`
	RedirectBase    string        `yaml:"redirect-base"`
}

// APIKeyRequired reports whether callers must present an API key.
func (b BypassConfig) APIKeyRequired() bool {
	return b.RequireAPIKey == nil || *b.RequireAPIKey
}

// UpstreamConfig configures a single upstream provider.
type UpstreamConfig struct {
	BaseURL string `yaml:"base-url"`
	APIKey  string `yaml:"api-key"`
}

// ProvidersConfig lists upstream provider settings by kind.
type ProvidersConfig struct {
	AbysmPaid UpstreamConfig `yaml:"abysm-paid"`
}

// HostRule routes a host (and its subdomains) to an ordered provider list.
type HostRule struct {
	Host      string   `yaml:"host"`
	Providers []string `yaml:"providers"`
}

// Config is the full runtime configuration.
type Config struct {
	Port           int             `yaml:"port"`
	AdminIP        string          `yaml:"admin-ip"` // Matched against the first X-Forwarded-For hop; deploy behind a proxy that overwrites that header.
	AllowedOrigins []string        `yaml:"allowed-origins"`
	Logging        LoggingConfig   `yaml:"logging"`
	Store          StoreConfig     `yaml:"store"`
	RateLimit      RateLimitConfig `yaml:"rate-limit"`
	Bypass         BypassConfig    `yaml:"bypass"`
	Providers      ProvidersConfig `yaml:"providers"`
	HostRules      []HostRule      `yaml:"host-rules"`
}

// DefaultHostRules returns the routing table shipped with the service.
func DefaultHostRules() []HostRule {
	return []HostRule{
		{Host: "auth.platorelay.com", Providers: []string{"abysm-paid"}},
		{Host: "auth.platoboost.me", Providers: []string{"abysm-paid"}},
		{Host: "auth.platoboost.app", Providers: []string{"abysm-paid"}},
	}
}

// Default returns a Config populated with built-in defaults.
func Default() Config {
	return Config{
		Port:           settings.DefaultPort,
		AllowedOrigins: []string{"*"},
		Logging:        LoggingConfig{Level: "info", Format: "text"},
		Store: StoreConfig{
			Driver:      StoreDriverMemory,
			RedisPrefix: settings.DefaultStoreRedisPrefix,
		},
		RateLimit: RateLimitConfig{
			Window:      settings.DefaultRateLimitWindow,
			MaxRequests: settings.DefaultRateLimitMaxRequests,
			RedisPrefix: settings.DefaultRateLimitRedisPrefix,
		},
		Bypass: BypassConfig{
			UpstreamTimeout: settings.DefaultUpstreamTimeout,
			UserAgent:       settings.DefaultUserAgent,
			RedirectBase:    settings.DefaultRedirectBase,
		},
		Providers: ProvidersConfig{
			AbysmPaid: UpstreamConfig{BaseURL: settings.DefaultAbysmBaseURL},
		},
		HostRules: DefaultHostRules(),
	}
}

// Load reads the YAML config file (when present), loads .env and applies
// environment overrides on top of the defaults.
func Load(configPath string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	data, errRead := os.ReadFile(configPath)
	switch {
	case errRead == nil:
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return Config{}, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
	case errors.Is(errRead, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read config file: %w", errRead)
	}

	applyEnv(&cfg)
	normalize(&cfg)
	if errValidate := cfg.Validate(); errValidate != nil {
		return Config{}, errValidate
	}
	return cfg, nil
}

// Validate reports configuration errors that prevent startup.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	switch c.Store.Driver {
	case StoreDriverMemory:
	case StoreDriverDatabase:
		if c.Store.DatabaseDSN == "" {
			return ErrMissingDatabaseDSN
		}
	case StoreDriverRedis:
		if c.Store.RedisURL == "" {
			return fmt.Errorf("store driver redis requires store.redis-url")
		}
	default:
		return fmt.Errorf("unsupported store driver: %q", c.Store.Driver)
	}
	if c.RateLimit.RedisEnabled && c.RateLimit.RedisURL == "" {
		return fmt.Errorf("rate-limit.redis-enabled requires rate-limit.redis-url")
	}
	return nil
}

func applyEnv(cfg *Config) {
	if raw := strings.TrimSpace(os.Getenv(EnvPort)); raw != "" {
		if port, errParse := strconv.Atoi(raw); errParse == nil {
			cfg.Port = port
		}
	}
	if ip := strings.TrimSpace(os.Getenv(EnvAdminIP)); ip != "" {
		cfg.AdminIP = ip
	}
	if raw := strings.TrimSpace(os.Getenv(EnvAllowedOrigins)); raw != "" {
		cfg.AllowedOrigins = strings.Split(raw, ",")
	}
	if driver := strings.TrimSpace(os.Getenv(EnvStoreDriver)); driver != "" {
		cfg.Store.Driver = driver
	}
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		cfg.Store.DatabaseDSN = dsn
		if os.Getenv(EnvStoreDriver) == "" {
			cfg.Store.Driver = StoreDriverDatabase
		}
	}
	if redisURL := strings.TrimSpace(os.Getenv(EnvRedisURL)); redisURL != "" {
		cfg.Store.RedisURL = redisURL
		if cfg.RateLimit.RedisURL == "" {
			cfg.RateLimit.RedisURL = redisURL
		}
	}
	if key := strings.TrimSpace(os.Getenv(EnvAbysmAPIKey)); key != "" {
		cfg.Providers.AbysmPaid.APIKey = key
	}
	if level := strings.TrimSpace(os.Getenv(EnvLogLevel)); level != "" {
		cfg.Logging.Level = level
	}
}

func normalize(cfg *Config) {
	cfg.AdminIP = strings.TrimSpace(cfg.AdminIP)
	origins := make([]string, 0, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	cfg.AllowedOrigins = origins

	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = StoreDriverMemory
	}
	cfg.Store.DatabaseDSN = strings.TrimSpace(cfg.Store.DatabaseDSN)
	cfg.Store.RedisURL = strings.TrimSpace(cfg.Store.RedisURL)
	if strings.TrimSpace(cfg.Store.RedisPrefix) == "" {
		cfg.Store.RedisPrefix = settings.DefaultStoreRedisPrefix
	}

	if cfg.RateLimit.Window <= 0 {
		cfg.RateLimit.Window = settings.DefaultRateLimitWindow
	}
	if cfg.RateLimit.MaxRequests <= 0 {
		cfg.RateLimit.MaxRequests = settings.DefaultRateLimitMaxRequests
	}
	cfg.RateLimit.RedisURL = strings.TrimSpace(cfg.RateLimit.RedisURL)
	if strings.TrimSpace(cfg.RateLimit.RedisPrefix) == "" {
		cfg.RateLimit.RedisPrefix = settings.DefaultRateLimitRedisPrefix
	}

	if cfg.Bypass.UpstreamTimeout <= 0 {
		cfg.Bypass.UpstreamTimeout = settings.DefaultUpstreamTimeout
	}
	if strings.TrimSpace(cfg.Bypass.UserAgent) == "" {
		cfg.Bypass.UserAgent = settings.DefaultUserAgent
	}
	if strings.TrimSpace(cfg.Bypass.RedirectBase) == "" {
		cfg.Bypass.RedirectBase = settings.DefaultRedirectBase
	}
	if strings.TrimSpace(cfg.Providers.AbysmPaid.BaseURL) == "" {
		cfg.Providers.AbysmPaid.BaseURL = settings.DefaultAbysmBaseURL
	}
	if len(cfg.HostRules) == 0 {
		cfg.HostRules = DefaultHostRules()
	}
}
