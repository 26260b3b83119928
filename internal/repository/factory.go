package repository

import (
	"context"
)

// DatabaseHealth is an interface for database health checks.
// It satisfies handler.HealthChecker for the health endpoint.
type DatabaseHealth interface {
	Ping(ctx context.Context) error
	Health(ctx context.Context) error
	Close() error
}

// MigrationStatus describes one schema migration.
type MigrationStatus struct {
	Version int64
	Source  string
	Applied bool
}

// Migrator applies the embedded schema migrations of a driver.
type Migrator interface {
	Up(ctx context.Context) error
	Down(ctx context.Context) error
	Status(ctx context.Context) ([]MigrationStatus, error)
	Version(ctx context.Context) (int64, error)
}

// Repositories holds the repository instances and the database handle behind them.
type Repositories struct {
	Keys     KeyRepository
	Database DatabaseHealth
	Migrator Migrator
}

// Close closes the underlying database.
func (r *Repositories) Close() error {
	if r == nil || r.Database == nil {
		return nil
	}
	return r.Database.Close()
}
