package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisSlidingScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
redis.call("ZADD", key, now, ARGV[3])
local count = redis.call("ZCARD", key)
redis.call("PEXPIRE", key, window)
local limit = tonumber(ARGV[4])
local pivot = 0
if count > limit then
  pivot = count - limit
end
local oldest = redis.call("ZRANGE", key, pivot, pivot, "WITHSCORES")
return {count, tonumber(oldest[2])}
`)

// RedisLimiter implements a sliding-window rate limiter backed by a Redis sorted set.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	seq    atomic.Uint64
}

// NewRedisLimiter constructs a RedisLimiter.
func NewRedisLimiter(client *redis.Client, prefix string) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		prefix: strings.TrimSpace(prefix),
	}
}

// Allow records now in the caller's window and reports whether it is admitted.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error) {
	if limit <= 0 || key == "" || window <= 0 || l == nil || l.client == nil {
		return Result{Allowed: true}, nil
	}
	nowMs := now.UnixMilli()
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + strconv.FormatUint(l.seq.Add(1), 10)
	res, errEval := redisSlidingScript.Run(ctx, l.client, []string{l.buildKey(key)},
		nowMs, window.Milliseconds(), member, limit).Result()
	if errEval != nil {
		return Result{}, errEval
	}
	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return Result{}, errors.New("rate limit redis: unexpected response type")
	}
	count, okCount := values[0].(int64)
	pivotMs, okPivot := values[1].(int64)
	if !okCount || !okPivot {
		return Result{}, errors.New("rate limit redis: unexpected response type")
	}
	reset := time.UnixMilli(pivotMs + window.Milliseconds())
	if count > int64(limit) {
		return Result{Allowed: false, Limit: limit, Remaining: 0, Reset: reset}, nil
	}
	return Result{Allowed: true, Limit: limit, Remaining: limit - int(count), Reset: reset}, nil
}

func (l *RedisLimiter) buildKey(key string) string {
	if l.prefix == "" {
		return key
	}
	return l.prefix + ":" + key
}
