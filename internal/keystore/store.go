// Package keystore holds the authoritative set of premium key records.
//
// The Store keeps every record in memory behind a single RWMutex and writes
// a full snapshot through a storage.SnapshotStore after each mutation. A failed
// save is logged and counted; the in-memory change stands and the next
// mutation retries the whole snapshot.
package keystore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/premium-keys/internal/domain"
	"github.com/prn-tf/premium-keys/internal/metrics"
	"github.com/prn-tf/premium-keys/internal/storage"
)

// Store is the authoritative key store. Callers only ever receive copies of records.
type Store struct {
	mu      sync.RWMutex
	records map[string]*domain.KeyRecord

	snapshots storage.SnapshotStore
	clock     domain.Clock
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	lastPersistErr error
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for filters and creation timestamps.
func WithClock(clock domain.Clock) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// WithMetrics enables metrics recording.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// New creates an empty store persisting through snapshots. A nil snapshots
// store keeps records in memory only.
func New(snapshots storage.SnapshotStore, logger zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		records:   make(map[string]*domain.KeyRecord),
		snapshots: snapshots,
		clock:     domain.SystemClock,
		logger:    logger.With().Str("component", "keystore").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the in-memory records with the persisted snapshot.
// On failure the store is left empty and the error is returned for logging;
// callers are expected to continue with an empty store.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]*domain.KeyRecord)
	if s.snapshots == nil {
		return nil
	}

	records, err := s.snapshots.Load(ctx)
	if err != nil {
		s.metrics.RecordPersistenceFailure()
		s.logger.Error().Err(err).Msg("Failed to load keys, starting with an empty store")
		return err
	}

	for i := range records {
		rec := records[i].Clone()
		s.records[rec.ID] = &rec
	}

	s.logger.Info().Int("count", len(s.records)).Msg("Loaded keys")
	return nil
}

// Add inserts a new record created now. It fails with domain.ErrDuplicateKey
// if the ID is already present.
func (s *Store) Add(ctx context.Context, id string, durationSeconds int64, expiresAt time.Time, createdBy *int64) (domain.KeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(ctx, id, durationSeconds, s.clock(), expiresAt, createdBy)
}

// Create inserts a new record whose countdown starts now. Creation and
// expiry come from a single clock read, so ExpiresAt-CreatedAt is exactly
// durationSeconds.
func (s *Store) Create(ctx context.Context, id string, durationSeconds int64, createdBy *int64) (domain.KeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	return s.addLocked(ctx, id, durationSeconds, now, now.Add(time.Duration(durationSeconds)*time.Second), createdBy)
}

func (s *Store) addLocked(ctx context.Context, id string, durationSeconds int64, createdAt, expiresAt time.Time, createdBy *int64) (domain.KeyRecord, error) {
	if _, exists := s.records[id]; exists {
		return domain.KeyRecord{}, domain.NewDomainError(domain.ErrDuplicateKey, "key ID collision", domain.MaskKeyID(id))
	}

	rec := &domain.KeyRecord{
		ID:              id,
		DurationSeconds: durationSeconds,
		CreatedAt:       createdAt,
		ExpiresAt:       expiresAt,
	}
	if createdBy != nil {
		rec.CreatedBy = domain.Int64Ptr(*createdBy)
	}
	s.records[id] = rec
	s.persistLocked(ctx)

	s.logger.Info().
		Str("key", rec.MaskedID()).
		Int64("duration_seconds", durationSeconds).
		Time("expires_at", expiresAt).
		Msg("Added key")

	return rec.Clone(), nil
}

// Import inserts a complete record as-is. Used by inbound synchronization.
// It never overwrites: an existing ID yields domain.ErrDuplicateKey.
func (s *Store) Import(ctx context.Context, record domain.KeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.ID]; exists {
		return domain.ErrDuplicateKey
	}

	rec := record.Clone()
	s.records[rec.ID] = &rec
	s.persistLocked(ctx)
	return nil
}

// Get returns a copy of the record with id.
func (s *Store) Get(id string) (domain.KeyRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return domain.KeyRecord{}, false
	}
	return rec.Clone(), true
}

// GetByRedeemer returns all records redeemed by userID.
func (s *Store) GetByRedeemer(userID int64) []domain.KeyRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.filterLocked(func(r *domain.KeyRecord) bool {
		return r.RedeemedByUser(userID)
	})
}

// HasActive reports whether userID redeemed at least one unexpired key.
func (s *Store) HasActive(userID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock()
	for _, r := range s.records {
		if r.RedeemedByUser(userID) && r.IsActive(now) {
			return true
		}
	}
	return false
}

// SetRedeemed records userID as the redeemer of id.
// Returns false if the key does not exist. It does not validate state; the
// lifecycle layer checks redeemability under its per-key lock first.
func (s *Store) SetRedeemed(ctx context.Context, id string, userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return false
	}
	rec.RedeemedBy = domain.Int64Ptr(userID)
	s.persistLocked(ctx)

	s.logger.Info().Str("key", rec.MaskedID()).Int64("user_id", userID).Msg("Key redeemed")
	return true
}

// SetDuration replaces the duration and expiry of id. Returns false if the key does not exist.
func (s *Store) SetDuration(ctx context.Context, id string, durationSeconds int64, expiresAt time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return false
	}
	rec.DurationSeconds = durationSeconds
	rec.ExpiresAt = expiresAt
	s.persistLocked(ctx)

	s.logger.Info().
		Str("key", rec.MaskedID()).
		Int64("duration_seconds", durationSeconds).
		Time("expires_at", expiresAt).
		Msg("Key duration updated")
	return true
}

// Delete removes id. Returns false if the key does not exist.
func (s *Store) Delete(ctx context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return false
	}
	delete(s.records, id)
	s.persistLocked(ctx)

	s.logger.Info().Str("key", rec.MaskedID()).Msg("Key deleted")
	return true
}

// ListActive returns every unexpired record, redeemed or not.
func (s *Store) ListActive() []domain.KeyRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock()
	return s.filterLocked(func(r *domain.KeyRecord) bool {
		return r.IsActive(now)
	})
}

// ListExpiredRedeemed returns records that are expired and were redeemed.
func (s *Store) ListExpiredRedeemed() []domain.KeyRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock()
	return s.filterLocked(func(r *domain.KeyRecord) bool {
		return r.IsReconcilableExpired(now)
	})
}

// All returns every record.
func (s *Store) All() []domain.KeyRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.filterLocked(func(*domain.KeyRecord) bool { return true })
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Stats aggregates all records at the current time.
func (s *Store) Stats() domain.KeyStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]domain.KeyRecord, 0, len(s.records))
	for _, r := range s.records {
		records = append(records, *r)
	}
	return domain.ComputeStats(records, s.clock())
}

// Now returns the store's notion of the current time.
func (s *Store) Now() time.Time {
	return s.clock()
}

// LastPersistError returns the error of the most recent save, or nil if it succeeded.
func (s *Store) LastPersistError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPersistErr
}

// filterLocked returns copies of matching records ordered by creation time.
// Caller must hold s.mu.
func (s *Store) filterLocked(match func(*domain.KeyRecord) bool) []domain.KeyRecord {
	out := make([]domain.KeyRecord, 0)
	for _, r := range s.records {
		if match(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// persistLocked writes the full snapshot. Caller must hold the write lock,
// which keeps snapshots ordered with mutations.
func (s *Store) persistLocked(ctx context.Context) {
	if s.snapshots == nil {
		return
	}

	records := make([]domain.KeyRecord, 0, len(s.records))
	for _, r := range s.records {
		records = append(records, r.Clone())
	}

	// Persist even if the caller's context is already done; the mutation is committed.
	err := s.snapshots.Save(context.WithoutCancel(ctx), records)
	s.lastPersistErr = err
	if err != nil {
		s.metrics.RecordPersistenceFailure()
		s.logger.Error().Err(err).Int("count", len(records)).Msg("Failed to save keys")
		return
	}
	s.logger.Debug().Int("count", len(records)).Msg("Saved keys")
}
