// Package storage defines the durable snapshot backends behind the key store.
// A backend persists one opaque snapshot (the JSON document produced by Encode)
// and hands it back on load. The key store always writes the full snapshot.
package storage

import (
	"context"
	"errors"

	"github.com/prn-tf/premium-keys/internal/domain"
)

// ErrSnapshotNotFound indicates that no snapshot has been written yet.
// The key store treats it as an empty store rather than a failure.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Backend defines the interface for snapshot backends.
// Implementations include the local filesystem, Redis and S3.
type Backend interface {
	// Read returns the last written snapshot.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//
	// Returns:
	//   - []byte: the raw snapshot document
	//   - err: ErrSnapshotNotFound if nothing was written yet, or other error
	Read(ctx context.Context) ([]byte, error)

	// Write replaces the snapshot atomically.
	// A reader must observe either the previous or the new snapshot, never a mix.
	Write(ctx context.Context, data []byte) error

	// Name identifies the backend in logs and metrics.
	Name() string
}

// SnapshotStore loads and saves the full set of key records.
type SnapshotStore interface {
	Load(ctx context.Context) ([]domain.KeyRecord, error)
	Save(ctx context.Context, records []domain.KeyRecord) error
}

// IsNotFound reports whether err means the snapshot does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSnapshotNotFound)
}
