package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFS embed.FS

// EnsureSchema creates a Postgres schema and returns dsn with search_path
// pointing at it. If the current user may not create schemas, it checks
// whether the schema already exists, so a DBA can pre-create it.
func EnsureSchema(dsn, schema string) (string, error) {
	if schema == "" {
		return dsn, nil
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	defer db.Close()

	_, err = db.Exec("CREATE SCHEMA IF NOT EXISTS " + pq.QuoteIdentifier(schema))
	if err != nil {
		var pqErr *pq.Error
		if !errors.As(err, &pqErr) || pqErr.Code.Name() != "insufficient_privilege" {
			return "", fmt.Errorf("create schema %s: %w", schema, err)
		}
		var exists bool
		qErr := db.QueryRow("SELECT EXISTS(SELECT 1 FROM pg_namespace WHERE nspname = $1)", schema).Scan(&exists)
		if qErr != nil {
			return "", fmt.Errorf("check schema %s: %w (original: %w)", schema, qErr, err)
		}
		if !exists {
			return "", fmt.Errorf("schema %s does not exist and the current database user lacks permission to create it; "+
				"ask your database admin to run: CREATE SCHEMA %s; (original: %w)", schema, pq.QuoteIdentifier(schema), err)
		}
	}
	return withSearchPath(dsn, schema)
}

// DropSchema removes a schema and everything in it.
func DropSchema(dsn, schema string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer db.Close()
	if _, err := db.Exec("DROP SCHEMA IF EXISTS " + pq.QuoteIdentifier(schema) + " CASCADE"); err != nil {
		return fmt.Errorf("drop schema %s: %w", schema, err)
	}
	return nil
}

func withSearchPath(dsn, schema string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse database url: %w", err)
	}
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// RunMigrations applies the embedded migrations for the dialect selected by dbURL.
func RunMigrations(dbURL string) error {
	dialect, err := Dialect(dbURL)
	if err != nil {
		return err
	}
	src, err := iofs.New(migrationFS, "migrations/"+dialect)
	if err != nil {
		return fmt.Errorf("migrations source: %w", err)
	}
	target := dbURL
	if dialect == "sqlite" {
		target = SchemeSQLite + SQLitePath(dbURL)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, target)
	if err != nil {
		return fmt.Errorf("migrate.New: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate.Up: %w", err)
	}
	return nil
}
