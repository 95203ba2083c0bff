package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps values as plain Redis strings under a prefix.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore constructs a RedisStore.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: strings.TrimSpace(prefix)}
}

// Get returns the value stored under key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("redis kv store: not initialized")
	}
	value, errGet := s.client.Get(ctx, s.buildKey(key)).Bytes()
	if errGet != nil {
		if errors.Is(errGet, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis kv store: get %s: %w", key, errGet)
	}
	return value, nil
}

// Set stores value under key without expiry.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("redis kv store: not initialized")
	}
	if errSet := s.client.Set(ctx, s.buildKey(key), value, 0).Err(); errSet != nil {
		return fmt.Errorf("redis kv store: set %s: %w", key, errSet)
	}
	return nil
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("redis kv store: not initialized")
	}
	if errDel := s.client.Del(ctx, s.buildKey(key)).Err(); errDel != nil {
		return fmt.Errorf("redis kv store: delete %s: %w", key, errDel)
	}
	return nil
}

func (s *RedisStore) buildKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}
