package store

import (
	"context"
	"fmt"
	"strings"
)

// Supported database URL schemes.
const (
	SchemePostgres   = "postgres://"
	SchemePostgreSQL = "postgresql://"
	SchemeSQLite     = "sqlite://"
)

// Dialect reports the backend for a database URL: "postgres" or "sqlite".
func Dialect(dbURL string) (string, error) {
	switch {
	case strings.HasPrefix(dbURL, SchemePostgres), strings.HasPrefix(dbURL, SchemePostgreSQL):
		return "postgres", nil
	case strings.HasPrefix(dbURL, SchemeSQLite):
		return "sqlite", nil
	default:
		return "", fmt.Errorf("unsupported database url %q: want postgres:// or sqlite://", redact(dbURL))
	}
}

// Open connects to the backend selected by the URL scheme.
// Migrations must have been applied with RunMigrations.
func Open(ctx context.Context, dbURL string) (Store, error) {
	dialect, err := Dialect(dbURL)
	if err != nil {
		return nil, err
	}
	if dialect == "postgres" {
		return NewPostgres(ctx, dbURL)
	}
	return NewSQLite(ctx, SQLitePath(dbURL))
}

// SQLitePath strips the sqlite:// scheme and any query string.
func SQLitePath(dbURL string) string {
	path := strings.TrimPrefix(dbURL, SchemeSQLite)
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}

// redact hides credentials in error messages.
func redact(dbURL string) string {
	at := strings.LastIndexByte(dbURL, '@')
	scheme := strings.Index(dbURL, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dbURL
	}
	return dbURL[:scheme+3] + "***" + dbURL[at:]
}
