// Package usage records executed bypass chains for later inspection.
package usage

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/vortixworld/bypassgate/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Record describes one executed provider chain.
type Record struct {
	APIKey      string
	Identity    string
	Host        string
	Providers   []string
	Success     bool
	Error       string
	Latency     time.Duration
	RequestedAt time.Time
}

// Recorder accepts chain records. Implementations must not block the caller on failure.
type Recorder interface {
	Record(ctx context.Context, record Record)
}

// NopRecorder discards records.
type NopRecorder struct{}

// Record implements Recorder.
func (NopRecorder) Record(context.Context, Record) {}

// GormRecorder persists chain records in the usages table.
type GormRecorder struct {
	db *gorm.DB
}

// NewGormRecorder constructs a GormRecorder backed by GORM.
func NewGormRecorder(db *gorm.DB) *GormRecorder { return &GormRecorder{db: db} }

// Record writes a usages row. Failures are logged and swallowed.
func (r *GormRecorder) Record(ctx context.Context, record Record) {
	if r == nil || r.db == nil {
		return
	}

	dbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	providers, errMarshal := json.Marshal(record.Providers)
	if errMarshal != nil {
		providers = []byte("[]")
	}
	requestedAt := record.RequestedAt
	if requestedAt.IsZero() {
		requestedAt = time.Now()
	}

	row := models.Usage{
		APIKey:      strings.TrimSpace(record.APIKey),
		Identity:    strings.TrimSpace(record.Identity),
		Host:        strings.TrimSpace(record.Host),
		Providers:   datatypes.JSON(providers),
		Success:     record.Success,
		Error:       record.Error,
		LatencyMs:   record.Latency.Milliseconds(),
		RequestedAt: requestedAt.UTC(),
	}
	if errCreate := r.db.WithContext(dbCtx).Create(&row).Error; errCreate != nil {
		log.WithError(errCreate).Warn("usage: failed to record chain")
	}
}

// HostSummary aggregates recorded chains for one host.
type HostSummary struct {
	Host      string `json:"host"`
	Total     int64  `json:"total"`
	Succeeded int64  `json:"succeeded"`
}

// SummarizeByHost counts recorded chains per host since the given instant.
func (r *GormRecorder) SummarizeByHost(ctx context.Context, since time.Time) ([]HostSummary, error) {
	if r == nil || r.db == nil {
		return []HostSummary{}, nil
	}
	var rows []HostSummary
	errQuery := r.db.WithContext(ctx).
		Model(&models.Usage{}).
		Select("host, COUNT(*) AS total, SUM(CASE WHEN success THEN 1 ELSE 0 END) AS succeeded").
		Where("requested_at >= ?", since.UTC()).
		Group("host").
		Order("total DESC").
		Scan(&rows).Error
	if errQuery != nil {
		return nil, errQuery
	}
	if rows == nil {
		rows = []HostSummary{}
	}
	return rows, nil
}
