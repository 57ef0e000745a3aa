package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "migrations"

// Migrator applies the embedded goose migrations.
type Migrator struct {
	db  *sql.DB
	log *slog.Logger
}

func NewMigrator(db *sql.DB, log *slog.Logger) (*Migrator, error) {
	if db == nil {
		return nil, fmt.Errorf("nil db provided")
	}
	if log == nil {
		log = slog.Default()
	}
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, fmt.Errorf("configure goose: %w", err)
	}
	return &Migrator{db: db, log: log}, nil
}

// Up applies pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	m.log.Info("applying migrations")
	if err := goose.UpContext(runCtx, m.db, migrationsDir); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	m.log.Info("migrations applied")
	return nil
}

// Status reports applied and pending migrations.
func (m *Migrator) Status(ctx context.Context) error {
	if err := goose.StatusContext(ctx, m.db, migrationsDir); err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	return nil
}

// Down rolls back either the latest migration or down to targetVersion.
func (m *Migrator) Down(ctx context.Context, targetVersion int64) error {
	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	if targetVersion > 0 {
		m.log.Info("rolling back migrations", "target", targetVersion)
		if err := goose.DownToContext(runCtx, m.db, migrationsDir, targetVersion); err != nil {
			return fmt.Errorf("rollback to version %d: %w", targetVersion, err)
		}
		return nil
	}
	m.log.Info("rolling back latest migration")
	if err := goose.DownContext(runCtx, m.db, migrationsDir); err != nil {
		return fmt.Errorf("rollback latest migration: %w", err)
	}
	return nil
}
