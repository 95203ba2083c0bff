package models

import (
	"time"

	"gorm.io/datatypes"
)

// KVEntry is one key-value pair of the database-backed store.
type KVEntry struct {
	Key       string         `gorm:"type:varchar(255);primaryKey"` // Entry key.
	Value     datatypes.JSON `gorm:"type:jsonb;not null"`          // JSON payload.
	UpdatedAt time.Time      `gorm:"not null;autoUpdateTime"`      // Last write timestamp.
}

// TableName pins the table name for KVEntry.
func (KVEntry) TableName() string { return "kv_entries" }
