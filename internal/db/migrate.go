package db

import (
	"fmt"

	"github.com/vortixworld/bypassgate/internal/models"
	"gorm.io/gorm"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite:
		return migrateSQLite(conn)
	case DialectPostgres, "":
		return migratePostgres(conn)
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}
}

// migratePostgres applies PostgreSQL schema updates and indexes.
func migratePostgres(conn *gorm.DB) error {
	if errAutoMigrate := conn.AutoMigrate(&models.KVEntry{}, &models.Usage{}); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}
	if errIndex := conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_usages_host_requested_at
		ON usages (host, requested_at DESC)
	`).Error; errIndex != nil {
		return fmt.Errorf("db: create usages host index: %w", errIndex)
	}
	return nil
}

// migrateSQLite applies SQLite schema updates and indexes.
func migrateSQLite(conn *gorm.DB) error {
	if errAutoMigrate := conn.AutoMigrate(&models.KVEntry{}, &models.Usage{}); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}
	if errIndex := conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_usages_host_requested_at
		ON usages (host, requested_at)
	`).Error; errIndex != nil {
		return fmt.Errorf("db: create usages host index: %w", errIndex)
	}
	return nil
}
