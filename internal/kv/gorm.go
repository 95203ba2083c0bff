package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vortixworld/bypassgate/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore persists values in the kv_entries table.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore constructs a GormStore.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Get loads the value stored under key.
func (s *GormStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm kv store: not initialized")
	}
	var entry models.KVEntry
	errFind := s.db.WithContext(ctx).Where(keyEq(key)).Take(&entry).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("gorm kv store: get %s: %w", key, errFind)
	}
	return []byte(entry.Value), nil
}

// Set upserts value under key.
func (s *GormStore) Set(ctx context.Context, key string, value []byte) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm kv store: not initialized")
	}
	entry := models.KVEntry{
		Key:       key,
		Value:     datatypes.JSON(value),
		UpdatedAt: time.Now().UTC(),
	}
	errUpsert := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
	if errUpsert != nil {
		return fmt.Errorf("gorm kv store: set %s: %w", key, errUpsert)
	}
	return nil
}

// Delete removes key.
func (s *GormStore) Delete(ctx context.Context, key string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm kv store: not initialized")
	}
	if errDelete := s.db.WithContext(ctx).Where(keyEq(key)).Delete(&models.KVEntry{}).Error; errDelete != nil {
		return fmt.Errorf("gorm kv store: delete %s: %w", key, errDelete)
	}
	return nil
}

func keyEq(key string) clause.Eq {
	return clause.Eq{Column: clause.Column{Name: "key"}, Value: key}
}
