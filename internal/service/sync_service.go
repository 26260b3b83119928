package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/prn-tf/premium-keys/internal/domain"
	"github.com/prn-tf/premium-keys/internal/keystore"
	"github.com/prn-tf/premium-keys/internal/metrics"
	"github.com/prn-tf/premium-keys/internal/repository"
)

// SyncService keeps the secondary store in step with the authoritative key store.
// Push, Pull and Delete are serialized with each other.
type SyncService struct {
	store   *keystore.Store
	repo    repository.KeyRepository
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu sync.Mutex

	// pendingDeletes holds keys deleted from the authoritative store whose
	// secondary row could not be removed yet. Pull never imports them.
	pendingDeletes map[string]struct{}
}

// NewSyncService creates a new SyncService.
func NewSyncService(store *keystore.Store, repo repository.KeyRepository, m *metrics.Metrics, logger zerolog.Logger) *SyncService {
	return &SyncService{
		store:   store,
		repo:    repo,
		metrics: m,
		logger:  logger.With().Str("service", "sync").Logger(),

		pendingDeletes: make(map[string]struct{}),
	}
}

// SyncResult contains the result of one sync direction.
type SyncResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
}

// Push copies authoritative records missing from the secondary store and
// propagates redeemed_by where it differs. Other fields of existing rows are
// left untouched. Per-row failures are counted, not returned.
func (s *SyncService) Push(ctx context.Context) (SyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result SyncResult
	if s.repo == nil {
		return result, ErrSyncDisabled
	}

	rows, err := s.listRows(ctx)
	if err != nil {
		s.metrics.RecordSync(metrics.DirectionPush, 0, err)
		return result, err
	}

	for _, rec := range s.store.All() {
		row, exists := rows[rec.ID]
		if !exists {
			rec := rec
			switch err := s.repo.Insert(ctx, &rec); {
			case err == nil:
				result.Inserted++
			case repository.IsDuplicate(err):
				result.Skipped++
			default:
				result.Errors++
				s.logger.Error().Err(err).Str("key", rec.MaskedID()).Msg("failed to push key")
			}
			continue
		}

		if sameRedeemer(row.RedeemedBy, rec.RedeemedBy) {
			continue
		}
		if err := s.repo.UpdateRedeemedBy(ctx, rec.ID, rec.RedeemedBy); err != nil {
			result.Errors++
			s.logger.Error().Err(err).Str("key", rec.MaskedID()).Msg("failed to push redeemer")
			continue
		}
		result.Updated++
	}

	s.metrics.RecordSync(metrics.DirectionPush, result.Inserted+result.Updated, nil)
	s.logResult(metrics.DirectionPush, result)
	return result, nil
}

// Pull imports secondary rows missing from the authoritative store.
// Existing authoritative records are never overwritten.
func (s *SyncService) Pull(ctx context.Context) (SyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result SyncResult
	if s.repo == nil {
		return result, ErrSyncDisabled
	}

	s.retryDeletesLocked(ctx)

	rows, err := s.listRows(ctx)
	if err != nil {
		s.metrics.RecordSync(metrics.DirectionPull, 0, err)
		return result, err
	}

	for id, row := range rows {
		if _, exists := s.store.Get(id); exists {
			continue
		}
		if _, deleted := s.pendingDeletes[id]; deleted {
			result.Skipped++
			continue
		}
		switch err := s.store.Import(ctx, *row); {
		case err == nil:
			result.Inserted++
		case errors.Is(err, domain.ErrDuplicateKey):
			result.Skipped++
		default:
			result.Errors++
			s.logger.Error().Err(err).Str("key", row.MaskedID()).Msg("failed to pull key")
		}
	}

	s.metrics.RecordSync(metrics.DirectionPull, result.Inserted, nil)
	s.logResult(metrics.DirectionPull, result)
	return result, nil
}

// Delete removes the secondary row of a key deleted from the authoritative
// store. A missing row is not an error. On failure the key is remembered and
// the removal is retried by the next Pull, which skips the row until then.
func (s *SyncService) Delete(ctx context.Context, keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.repo == nil {
		return ErrSyncDisabled
	}

	if err := s.deleteRowLocked(ctx, keyID); err != nil {
		s.pendingDeletes[keyID] = struct{}{}
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return nil
}

// PendingDeletes returns the number of deletions not yet applied to the secondary store.
func (s *SyncService) PendingDeletes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pendingDeletes)
}

func (s *SyncService) deleteRowLocked(ctx context.Context, keyID string) error {
	err := s.repo.Delete(ctx, keyID)
	if err != nil && !errors.Is(err, domain.ErrKeyNotFound) {
		s.logger.Error().Err(err).Str("key", domain.MaskKeyID(keyID)).Msg("failed to delete key from secondary store")
		return err
	}
	delete(s.pendingDeletes, keyID)
	return nil
}

func (s *SyncService) retryDeletesLocked(ctx context.Context) {
	for keyID := range s.pendingDeletes {
		_ = s.deleteRowLocked(ctx, keyID)
	}
}

// Sync runs Pull then Push.
func (s *SyncService) Sync(ctx context.Context) (pull, push SyncResult, err error) {
	if pull, err = s.Pull(ctx); err != nil {
		return pull, push, err
	}
	push, err = s.Push(ctx)
	return pull, push, err
}

// Stats aggregates the secondary store.
func (s *SyncService) Stats(ctx context.Context) (domain.KeyStats, error) {
	if s.repo == nil {
		return domain.KeyStats{}, ErrSyncDisabled
	}
	return s.repo.Stats(ctx, s.store.Now())
}

// ListSecondary returns every row of the secondary store.
func (s *SyncService) ListSecondary(ctx context.Context) ([]*domain.KeyRecord, error) {
	if s.repo == nil {
		return nil, ErrSyncDisabled
	}
	return s.repo.List(ctx)
}

// GetSecondary returns one row of the secondary store.
func (s *SyncService) GetSecondary(ctx context.Context, keyID string) (*domain.KeyRecord, error) {
	if s.repo == nil {
		return nil, ErrSyncDisabled
	}
	return s.repo.GetByKey(ctx, keyID)
}

func (s *SyncService) listRows(ctx context.Context) (map[string]*domain.KeyRecord, error) {
	list, err := s.repo.List(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list secondary store")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	rows := make(map[string]*domain.KeyRecord, len(list))
	for _, row := range list {
		rows[row.ID] = row
	}
	return rows, nil
}

func (s *SyncService) logResult(direction string, result SyncResult) {
	event := s.logger.Debug()
	if result.Inserted+result.Updated+result.Errors > 0 {
		event = s.logger.Info()
	}
	event.
		Str("direction", direction).
		Int("inserted", result.Inserted).
		Int("updated", result.Updated).
		Int("skipped", result.Skipped).
		Int("errors", result.Errors).
		Msg("sync completed")
}

func sameRedeemer(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
