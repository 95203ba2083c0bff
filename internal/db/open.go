package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the database described by dsn.
// DSNs starting with "file:" open SQLite; anything else is treated as PostgreSQL.
func Open(dsn string) (*gorm.DB, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("db: empty dsn")
	}

	gormConfig := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}

	var dialector gorm.Dialector
	if isSQLiteDSN(trimmed) {
		dialector = sqlite.Open(BuildSQLiteDSN(trimmed))
	} else {
		dialector = postgres.Open(trimmed)
	}

	conn, errOpen := gorm.Open(dialector, gormConfig)
	if errOpen != nil {
		return nil, fmt.Errorf("db: open: %w", errOpen)
	}
	sqlDB, errDB := conn.DB()
	if errDB != nil {
		return nil, fmt.Errorf("db: sql handle: %w", errDB)
	}
	if isSQLiteDSN(trimmed) {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	if errPing := sqlDB.Ping(); errPing != nil {
		return nil, fmt.Errorf("db: ping: %w", errPing)
	}
	return conn, nil
}

// BuildSQLiteDSN appends the default SQLite pragmas unless the DSN is in-memory
// or already carries pragmas.
func BuildSQLiteDSN(path string) string {
	dsn := strings.TrimSpace(path)
	if !strings.HasPrefix(strings.ToLower(dsn), "file:") {
		dsn = "file:" + dsn
	}
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + strings.Join([]string{
		"_pragma=busy_timeout(5000)",
		"_pragma=journal_mode(WAL)",
		"_pragma=synchronous(NORMAL)",
	}, "&")
}

func isSQLiteDSN(dsn string) bool {
	return strings.HasPrefix(strings.ToLower(dsn), "file:")
}
