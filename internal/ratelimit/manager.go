package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const redisBreakerDuration = 30 * time.Second

// SettingsProvider supplies the latest settings snapshot.
type SettingsProvider func() SettingsConfig

// RedisClientFactory constructs a Redis client for the given options.
type RedisClientFactory func(options *redis.Options) *redis.Client

type redisConfig struct {
	url    string
	prefix string
}

// Manager selects a limiter backend and enforces the per-caller window.
type Manager struct {
	provider       SettingsProvider
	nowFn          func() time.Time
	memoryLimiter  *MemoryLimiter
	newRedisClient RedisClientFactory
	mu             sync.Mutex
	redisLimiter   *RedisLimiter
	redisCfg       redisConfig
	breakerUntil   time.Time
}

// NewManager constructs a Manager with default dependencies when nil.
func NewManager(provider SettingsProvider, nowFn func() time.Time, newRedisClient RedisClientFactory) *Manager {
	if provider == nil {
		provider = StaticSettings(SettingsConfig{})
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if newRedisClient == nil {
		newRedisClient = redis.NewClient
	}
	return &Manager{
		provider:       provider,
		nowFn:          nowFn,
		memoryLimiter:  NewMemoryLimiter(),
		newRedisClient: newRedisClient,
	}
}

// Admit records an attempt for identity at now and reports whether it is admitted.
// Redis is preferred when enabled; any Redis failure trips a breaker and the
// in-process window answers instead.
func (m *Manager) Admit(ctx context.Context, identity string, now time.Time) Result {
	if m == nil {
		return Result{Allowed: true}
	}
	cfg := m.provider()
	if cfg.Limit <= 0 || cfg.Window <= 0 || identity == "" {
		return Result{Allowed: true}
	}

	if cfg.RedisEnabled {
		if result, ok := m.allowRedis(ctx, identity, now, cfg); ok {
			return result
		}
	}
	result, _ := m.memoryLimiter.Allow(ctx, identity, cfg.Limit, cfg.Window, now)
	return result
}

// Run sweeps idle in-process windows until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	if m == nil {
		return
	}
	interval := m.provider().Window
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.Close()
			return
		case <-ticker.C:
			if removed := m.memoryLimiter.Sweep(interval, m.nowFn()); removed > 0 {
				log.Debugf("rate limit: swept %d idle windows", removed)
			}
		}
	}
}

// Close releases the Redis client if one was opened.
func (m *Manager) Close() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.redisLimiter != nil {
		_ = m.redisLimiter.client.Close()
		m.redisLimiter = nil
		m.redisCfg = redisConfig{}
	}
}

func (m *Manager) allowRedis(ctx context.Context, identity string, now time.Time, cfg SettingsConfig) (Result, bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	if m.isBreakerActive(now) {
		return Result{}, false
	}
	limiter, errEnsure := m.ensureRedis(ctx, cfg)
	if errEnsure != nil {
		m.tripBreaker(errEnsure, now)
		return Result{}, false
	}
	if limiter == nil {
		return Result{}, false
	}
	result, errAllow := limiter.Allow(ctx, identity, cfg.Limit, cfg.Window, now)
	if errAllow != nil {
		m.tripBreaker(errAllow, now)
		return Result{}, false
	}
	return result, true
}

func (m *Manager) isBreakerActive(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.breakerUntil.IsZero() {
		return false
	}
	if now.Before(m.breakerUntil) {
		return true
	}
	m.breakerUntil = time.Time{}
	return false
}

func (m *Manager) tripBreaker(err error, now time.Time) {
	if err == nil || m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.breakerUntil.IsZero() && now.Before(m.breakerUntil) {
		return
	}
	m.breakerUntil = now.Add(redisBreakerDuration)
	log.WithError(err).Warn("rate limit: redis unavailable, falling back to memory")
}

func (m *Manager) ensureRedis(ctx context.Context, cfg SettingsConfig) (*RedisLimiter, error) {
	rawURL := strings.TrimSpace(cfg.RedisURL)
	if rawURL == "" {
		return nil, errors.New("rate limit redis: missing url")
	}
	nextCfg := redisConfig{url: rawURL, prefix: strings.TrimSpace(cfg.RedisPrefix)}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.redisLimiter != nil && m.redisCfg == nextCfg {
		return m.redisLimiter, nil
	}
	if m.redisLimiter != nil {
		_ = m.redisLimiter.client.Close()
		m.redisLimiter = nil
	}

	options, errParse := redis.ParseURL(rawURL)
	if errParse != nil {
		return nil, fmt.Errorf("rate limit redis: parse url: %w", errParse)
	}
	client := m.newRedisClient(options)
	ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if errPing := client.Ping(ctxPing).Err(); errPing != nil {
		_ = client.Close()
		return nil, errPing
	}
	m.redisLimiter = NewRedisLimiter(client, nextCfg.prefix)
	m.redisCfg = nextCfg
	return m.redisLimiter, nil
}
