package queue

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
)

// The entries and sync_status schema lives in versioned .sql files so a
// store opened against an older database upgrades in place.
//
//go:embed migrations/*.sql
var migrationsFS embed.FS

// runMigrations brings the queue schema up to date via the goose Provider
// API, which keeps migration state on the handle rather than in globals.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	// goose wants the .sql files at the root of the fs.FS it is given.
	schemaFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("queue: opening embedded schema: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, schemaFS)
	if err != nil {
		return fmt.Errorf("queue: creating migration provider: %w", err)
	}

	applied, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("queue: migrating schema: %w", err)
	}

	for _, m := range applied {
		logger.Debug("schema migration applied",
			slog.String("version", m.Source.Path),
		)
	}

	return nil
}
