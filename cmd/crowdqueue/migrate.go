package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/voyagen/crowdqueue/internal/config"
	"github.com/voyagen/crowdqueue/internal/store"
	"go.uber.org/zap"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			log, err := ctx.logger()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			if _, err := migrateDatabase(cfg); err != nil {
				return err
			}
			log.Info("migrations applied", zap.String("schema", cfg.DatabaseSchema))
			return nil
		},
	}
}

// migrateDatabase creates the configured Postgres schema if needed, applies
// migrations, and returns the URL the store should open.
func migrateDatabase(cfg *config.Config) (string, error) {
	dbURL := cfg.DatabaseURL
	dialect, err := store.Dialect(dbURL)
	if err != nil {
		return "", err
	}
	if dialect == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(store.SQLitePath(dbURL)), 0o755); err != nil {
			return "", fmt.Errorf("create database dir: %w", err)
		}
	}
	if dialect == "postgres" && cfg.DatabaseSchema != "" {
		if dbURL, err = store.EnsureSchema(dbURL, cfg.DatabaseSchema); err != nil {
			return "", err
		}
	}
	if err := store.RunMigrations(dbURL); err != nil {
		return "", err
	}
	return dbURL, nil
}
