package db

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Target summarizes a DSN without its credentials.
type Target struct {
	Dialect     string
	Host        string
	Port        int
	User        string
	Name        string
	SSLMode     string
	Path        string
	PasswordSet bool
}

// String renders the target for logs.
func (t Target) String() string {
	if t.Dialect == DialectSQLite {
		return "sqlite " + t.Path
	}
	return fmt.Sprintf("postgres %s@%s:%d/%s (sslmode=%s)", t.User, t.Host, t.Port, t.Name, t.SSLMode)
}

// Describe parses dsn into a Target.
func Describe(dsn string) (Target, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return Target{}, fmt.Errorf("db: empty dsn")
	}

	if isSQLiteDSN(trimmed) {
		pathPart := trimmed[len("file:"):]
		pathPart, _, _ = strings.Cut(pathPart, "?")
		return Target{Dialect: DialectSQLite, Path: strings.TrimSpace(pathPart)}, nil
	}

	u, errParse := url.Parse(trimmed)
	if errParse != nil {
		return Target{}, fmt.Errorf("db: parse dsn: %w", errParse)
	}
	switch strings.ToLower(strings.TrimSpace(u.Scheme)) {
	case "postgres", "postgresql":
	default:
		return Target{}, fmt.Errorf("db: unsupported dsn scheme")
	}

	port := 5432
	if rawPort := strings.TrimSpace(u.Port()); rawPort != "" {
		parsedPort, errPort := strconv.Atoi(rawPort)
		if errPort != nil {
			return Target{}, fmt.Errorf("db: parse port: %w", errPort)
		}
		port = parsedPort
	}
	username := ""
	passwordSet := false
	if u.User != nil {
		username = strings.TrimSpace(u.User.Username())
		_, passwordSet = u.User.Password()
	}
	sslMode := strings.TrimSpace(u.Query().Get("sslmode"))
	if sslMode == "" {
		sslMode = "disable"
	}
	return Target{
		Dialect:     DialectPostgres,
		Host:        strings.TrimSpace(u.Hostname()),
		Port:        port,
		User:        username,
		Name:        strings.TrimSpace(strings.TrimPrefix(u.Path, "/")),
		SSLMode:     sslMode,
		PasswordSet: passwordSet,
	}, nil
}
