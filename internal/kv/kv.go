// Package kv provides the key-value backends that hold key records and the key index.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("kv: not found")

// Store is a minimal string-keyed JSON blob store.
type Store interface {
	// Get returns the raw value stored under key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
