// Package repository defines data access interfaces for the secondary key store.
// The secondary store is a relational copy of the key records consumed by the
// dashboard API. It is kept in step with the authoritative store by the sync service.
package repository

import (
	"context"
	"time"

	"github.com/prn-tf/premium-keys/internal/domain"
)

// =============================================================================
// Key Repository
// =============================================================================

// KeyRepository defines the interface for key data access in the secondary store.
type KeyRepository interface {
	// Insert adds a new row for rec.
	// Returns domain.ErrDuplicateKey if a row with the same key ID exists.
	Insert(ctx context.Context, rec *domain.KeyRecord) error

	// GetByKey retrieves a key by its ID.
	// Returns domain.ErrKeyNotFound if it does not exist.
	GetByKey(ctx context.Context, keyID string) (*domain.KeyRecord, error)

	// List returns all keys ordered by creation time.
	List(ctx context.Context) ([]*domain.KeyRecord, error)

	// UpdateRedeemedBy sets the redeemer of keyID. Nil clears it.
	// Returns domain.ErrKeyNotFound if it does not exist.
	UpdateRedeemedBy(ctx context.Context, keyID string, redeemedBy *int64) error

	// Delete removes the row of keyID.
	// Returns domain.ErrKeyNotFound if it does not exist.
	Delete(ctx context.Context, keyID string) error

	// Stats aggregates all rows relative to now.
	Stats(ctx context.Context, now time.Time) (domain.KeyStats, error)
}
