package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

// GooseMigrator runs embedded SQL migrations through a goose provider.
type GooseMigrator struct {
	provider *goose.Provider
	logger   zerolog.Logger
}

// NewGooseMigrator creates a migrator for db using the migrations in fsys
// (the directory holding the numbered .sql files).
func NewGooseMigrator(dialect goose.Dialect, db *sql.DB, fsys fs.FS, logger zerolog.Logger) (*GooseMigrator, error) {
	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("failed to create goose provider: %w", err)
	}
	return &GooseMigrator{
		provider: provider,
		logger:   logger.With().Str("component", "migrator").Logger(),
	}, nil
}

// Up applies all pending migrations.
func (m *GooseMigrator) Up(ctx context.Context) error {
	results, err := m.provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	for _, r := range results {
		m.logResult(r, "Migrated")
	}
	if len(results) == 0 {
		m.logger.Debug().Msg("Schema is up to date")
	}
	return nil
}

// Down rolls back the most recent migration.
func (m *GooseMigrator) Down(ctx context.Context) error {
	result, err := m.provider.Down(ctx)
	if err != nil {
		if errors.Is(err, goose.ErrNoNextVersion) {
			m.logger.Info().Msg("No migration to roll back")
			return nil
		}
		return fmt.Errorf("rollback failed: %w", err)
	}
	m.logResult(result, "Rolled back")
	return nil
}

// Status lists every known migration and whether it is applied.
func (m *GooseMigrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	statuses, err := m.provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration status: %w", err)
	}

	out := make([]MigrationStatus, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, MigrationStatus{
			Version: s.Source.Version,
			Source:  s.Source.Path,
			Applied: s.State == goose.StateApplied,
		})
	}
	return out, nil
}

// Version returns the current schema version.
func (m *GooseMigrator) Version(ctx context.Context) (int64, error) {
	return m.provider.GetDBVersion(ctx)
}

func (m *GooseMigrator) logResult(r *goose.MigrationResult, action string) {
	if r == nil || r.Source == nil {
		return
	}
	m.logger.Info().
		Int64("version", r.Source.Version).
		Str("source", r.Source.Path).
		Dur("duration", r.Duration).
		Msg(action)
}

var _ Migrator = (*GooseMigrator)(nil)
