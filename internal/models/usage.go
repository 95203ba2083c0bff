package models

import (
	"time"

	"gorm.io/datatypes"
)

// Usage records one executed provider chain.
type Usage struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	APIKey    string         `gorm:"type:varchar(64);index"`  // Masked API key (empty when unmetered).
	Identity  string         `gorm:"type:varchar(255);index"` // Rate limit identity.
	Host      string         `gorm:"type:varchar(255);index"` // Normalized target host.
	Providers datatypes.JSON `gorm:"type:jsonb"`              // Provider chain attempted.
	Success   bool           `gorm:"not null;default:false"`  // Whether a provider succeeded.
	Error     string         `gorm:"type:text"`               // Final chain error.
	LatencyMs int64          `gorm:"not null;default:0"`      // Chain latency in milliseconds.

	RequestedAt time.Time `gorm:"not null;index"`          // Request entry time.
	CreatedAt   time.Time `gorm:"not null;autoCreateTime"` // Row creation timestamp.
}
