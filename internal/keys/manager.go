// Package keys implements the API key lifecycle: validation, settlement and admin mutations.
package keys

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/vortixworld/bypassgate/internal/models"
	"github.com/vortixworld/bypassgate/internal/settings"
	"github.com/vortixworld/bypassgate/internal/store"
)

var (
	// ErrKeyNotFound is returned for tokens with no stored record.
	ErrKeyNotFound = errors.New("key not found")
	// ErrKeyExpired is returned by Validate for exhausted or lapsed keys.
	ErrKeyExpired = errors.New("key expired")
	// ErrInvalidType is returned for a quota kind other than request or monthly.
	ErrInvalidType = errors.New("invalid type")
	// ErrInvalidValue is returned for a non-positive quota value.
	ErrInvalidValue = errors.New("invalid value")
	// ErrMonthsExceeded is returned when a monthly key asks for more than the cap.
	ErrMonthsExceeded = errors.New("max 12 months")
)

const lockStripes = 64

// Outcome is the end result of a gated request, used to settle its key.
type Outcome int

const (
	// OutcomeFailure means no provider produced a result.
	OutcomeFailure Outcome = iota
	// OutcomeSuccess means a provider produced a result.
	OutcomeSuccess
)

// KeyView is one entry of the admin key listing.
type KeyView struct {
	Token  string
	Record models.KeyRecord
	Status models.KeyStatus
}

// Manager owns the quota state machine of issued keys.
type Manager struct {
	store    *store.KeyStore
	nowFn    func() time.Time
	newToken func() string

	locks [lockStripes]sync.Mutex
}

// NewManager constructs a Manager over the key store.
func NewManager(keyStore *store.KeyStore) *Manager {
	return &Manager{
		store:    keyStore,
		nowFn:    time.Now,
		newToken: uuid.NewString,
	}
}

// Validate loads the record for token and checks that it still admits a request.
// It returns ErrKeyNotFound for unknown tokens and ErrKeyExpired for exhausted
// or lapsed ones; the latter are deleted and removed from the index.
func (m *Manager) Validate(ctx context.Context, token string) (models.KeyRecord, error) {
	lock := m.lockFor(token)
	lock.Lock()
	defer lock.Unlock()

	record, ok, errGet := m.store.GetKey(ctx, token)
	if errGet != nil {
		return models.KeyRecord{}, fmt.Errorf("keys: validate: %w", errGet)
	}
	if !ok {
		return models.KeyRecord{}, ErrKeyNotFound
	}
	if record.Expired(m.nowFn()) {
		if errDelete := m.store.DeleteKey(ctx, token); errDelete != nil {
			return models.KeyRecord{}, fmt.Errorf("keys: cleanup expired: %w", errDelete)
		}
		log.WithField("api_key", MaskKey(token)).Info("keys: removed expired key")
		return models.KeyRecord{}, ErrKeyExpired
	}
	return record, nil
}

// Settle charges one attempt against token. Usage always increases; on success
// a request key loses one unit and is retired when it reaches zero.
// A key deleted since validation is left deleted.
func (m *Manager) Settle(ctx context.Context, token string, outcome Outcome) (models.KeyRecord, error) {
	lock := m.lockFor(token)
	lock.Lock()
	defer lock.Unlock()

	record, ok, errGet := m.store.GetKey(ctx, token)
	if errGet != nil {
		return models.KeyRecord{}, fmt.Errorf("keys: settle: %w", errGet)
	}
	if !ok {
		return models.KeyRecord{}, nil
	}

	record.Usage++
	if outcome == OutcomeSuccess && record.Type == models.QuotaKindRequest {
		remaining := record.RemainingValue() - 1
		record.Remaining = &remaining
		if remaining <= 0 {
			if errDelete := m.store.DeleteKey(ctx, token); errDelete != nil {
				return models.KeyRecord{}, fmt.Errorf("keys: retire exhausted: %w", errDelete)
			}
			return record, nil
		}
	}
	if errPut := m.store.PutKey(ctx, token, record); errPut != nil {
		return models.KeyRecord{}, fmt.Errorf("keys: settle: %w", errPut)
	}
	return record, nil
}

// Create mints a new key. value is a request count or a month count.
func (m *Manager) Create(ctx context.Context, kind models.QuotaKind, value int64) (string, models.KeyRecord, error) {
	if !kind.Valid() {
		return "", models.KeyRecord{}, ErrInvalidType
	}
	if value < 1 {
		return "", models.KeyRecord{}, ErrInvalidValue
	}

	now := m.nowFn()
	var record models.KeyRecord
	switch kind {
	case models.QuotaKindMonthly:
		if value > settings.MaxMonths {
			return "", models.KeyRecord{}, ErrMonthsExceeded
		}
		record = models.NewMonthlyRecord(now.Add(time.Duration(value)*settings.MonthDuration), now)
	default:
		record = models.NewRequestRecord(value, now)
	}

	token := m.newToken()
	if errCreate := m.store.CreateKey(ctx, token, record); errCreate != nil {
		return "", models.KeyRecord{}, fmt.Errorf("keys: create: %w", errCreate)
	}
	log.WithFields(log.Fields{
		"api_key": MaskKey(token),
		"type":    kind,
		"value":   value,
	}).Info("keys: created key")
	return token, record, nil
}

// Delete removes token and its index entry. Unknown tokens are not an error.
func (m *Manager) Delete(ctx context.Context, token string) error {
	lock := m.lockFor(token)
	lock.Lock()
	defer lock.Unlock()

	if errDelete := m.store.DeleteKey(ctx, token); errDelete != nil {
		return fmt.Errorf("keys: delete: %w", errDelete)
	}
	return nil
}

// Expire forces token into the expired state without removing it.
func (m *Manager) Expire(ctx context.Context, token string) error {
	lock := m.lockFor(token)
	lock.Lock()
	defer lock.Unlock()

	record, ok, errGet := m.store.GetKey(ctx, token)
	if errGet != nil {
		return fmt.Errorf("keys: expire: %w", errGet)
	}
	if !ok {
		return ErrKeyNotFound
	}
	switch record.Type {
	case models.QuotaKindRequest:
		var zero int64
		record.Remaining = &zero
	case models.QuotaKindMonthly:
		expiration := m.nowFn().UnixMilli()
		record.Expiration = &expiration
	}
	if errPut := m.store.PutKey(ctx, token, record); errPut != nil {
		return fmt.Errorf("keys: expire: %w", errPut)
	}
	return nil
}

// List returns every indexed key with its derived status.
// Index entries whose record has vanished are skipped.
func (m *Manager) List(ctx context.Context) ([]KeyView, error) {
	tokens, errList := m.store.ListTokens(ctx)
	if errList != nil {
		return nil, fmt.Errorf("keys: list: %w", errList)
	}
	now := m.nowFn()
	out := make([]KeyView, 0, len(tokens))
	for _, token := range tokens {
		record, ok, errGet := m.store.GetKey(ctx, token)
		if errGet != nil {
			return nil, fmt.Errorf("keys: list: %w", errGet)
		}
		if !ok {
			continue
		}
		out = append(out, KeyView{Token: token, Record: record, Status: record.Status(now)})
	}
	return out, nil
}

func (m *Manager) lockFor(token string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	return &m.locks[h.Sum32()%lockStripes]
}

// MaskKey hides the middle of an API key for logging.
func MaskKey(token string) string {
	if len(token) <= 12 {
		return "****"
	}
	return token[:8] + "..." + token[len(token)-4:]
}
