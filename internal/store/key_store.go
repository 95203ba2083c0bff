// Package store adapts a kv.Store into key records plus the all-keys index.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/vortixworld/bypassgate/internal/kv"
	"github.com/vortixworld/bypassgate/internal/models"
	"github.com/vortixworld/bypassgate/internal/settings"
)

// KeyStore persists key records and the index of issued tokens.
type KeyStore struct {
	kv kv.Store

	indexMu sync.Mutex
}

// NewKeyStore constructs a KeyStore over backend.
func NewKeyStore(backend kv.Store) *KeyStore {
	return &KeyStore{kv: backend}
}

// GetKey loads the record for token. The bool is false when no record exists.
func (s *KeyStore) GetKey(ctx context.Context, token string) (models.KeyRecord, bool, error) {
	raw, errGet := s.kv.Get(ctx, recordKey(token))
	if errGet != nil {
		if errors.Is(errGet, kv.ErrNotFound) {
			return models.KeyRecord{}, false, nil
		}
		return models.KeyRecord{}, false, fmt.Errorf("key store: get record: %w", errGet)
	}
	var record models.KeyRecord
	if errUnmarshal := json.Unmarshal(raw, &record); errUnmarshal != nil {
		return models.KeyRecord{}, false, fmt.Errorf("key store: decode record: %w", errUnmarshal)
	}
	return record, true, nil
}

// PutKey writes the record for token.
func (s *KeyStore) PutKey(ctx context.Context, token string, record models.KeyRecord) error {
	payload, errMarshal := json.Marshal(record)
	if errMarshal != nil {
		return fmt.Errorf("key store: encode record: %w", errMarshal)
	}
	if errSet := s.kv.Set(ctx, recordKey(token), payload); errSet != nil {
		return fmt.Errorf("key store: put record: %w", errSet)
	}
	return nil
}

// CreateKey writes a new record and registers the token in the index.
func (s *KeyStore) CreateKey(ctx context.Context, token string, record models.KeyRecord) error {
	if errPut := s.PutKey(ctx, token, record); errPut != nil {
		return errPut
	}
	return s.updateIndex(ctx, func(tokens []string) []string {
		for _, existing := range tokens {
			if existing == token {
				return tokens
			}
		}
		return append(tokens, token)
	})
}

// DeleteKey drops token from the index, then removes its record.
// A failed index write leaves both the record and the index untouched.
func (s *KeyStore) DeleteKey(ctx context.Context, token string) error {
	errIndex := s.updateIndex(ctx, func(tokens []string) []string {
		out := tokens[:0]
		for _, existing := range tokens {
			if existing != token {
				out = append(out, existing)
			}
		}
		return out
	})
	if errIndex != nil {
		return errIndex
	}
	if errDelete := s.kv.Delete(ctx, recordKey(token)); errDelete != nil {
		return fmt.Errorf("key store: delete record: %w", errDelete)
	}
	return nil
}

// ListTokens returns the indexed tokens in issue order.
func (s *KeyStore) ListTokens(ctx context.Context) ([]string, error) {
	return s.readIndex(ctx)
}

// Ping checks that the backend answers reads.
func (s *KeyStore) Ping(ctx context.Context) error {
	_, errRead := s.readIndex(ctx)
	return errRead
}

func (s *KeyStore) updateIndex(ctx context.Context, mutate func([]string) []string) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	tokens, errRead := s.readIndex(ctx)
	if errRead != nil {
		return errRead
	}
	tokens = mutate(tokens)
	if tokens == nil {
		tokens = []string{}
	}
	payload, errMarshal := json.Marshal(tokens)
	if errMarshal != nil {
		return fmt.Errorf("key store: encode index: %w", errMarshal)
	}
	if errSet := s.kv.Set(ctx, settings.AllKeysIndex, payload); errSet != nil {
		return fmt.Errorf("key store: write index: %w", errSet)
	}
	return nil
}

func (s *KeyStore) readIndex(ctx context.Context) ([]string, error) {
	raw, errGet := s.kv.Get(ctx, settings.AllKeysIndex)
	if errGet != nil {
		if errors.Is(errGet, kv.ErrNotFound) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("key store: read index: %w", errGet)
	}
	var tokens []string
	if errUnmarshal := json.Unmarshal(raw, &tokens); errUnmarshal != nil {
		return nil, fmt.Errorf("key store: decode index: %w", errUnmarshal)
	}
	if tokens == nil {
		tokens = []string{}
	}
	return tokens, nil
}

func recordKey(token string) string {
	return settings.KeyRecordPrefix + token
}
