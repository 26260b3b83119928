package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/premium-keys/internal/domain"
	"github.com/prn-tf/premium-keys/internal/keystore"
	"github.com/prn-tf/premium-keys/internal/lock"
	"github.com/prn-tf/premium-keys/internal/metrics"
	"github.com/prn-tf/premium-keys/internal/pkg/crypto"
	"github.com/prn-tf/premium-keys/internal/pkg/duration"
	"github.com/prn-tf/premium-keys/internal/platform"
)

// maxGenerateAttempts bounds retries on key ID collisions.
const maxGenerateAttempts = 3

// KeyServiceConfig contains key lifecycle configuration.
type KeyServiceConfig struct {
	// PremiumRoleID is the role granted on redemption.
	PremiumRoleID int64

	// RoleGrantTimeout bounds the role grant after a redemption.
	RoleGrantTimeout time.Duration

	// RedeemLockTTL is how long a redemption may hold its key lock.
	RedeemLockTTL time.Duration

	// RedeemLockWait is how long a redemption waits for a busy key.
	RedeemLockWait time.Duration
}

// DefaultKeyServiceConfig returns sensible defaults.
func DefaultKeyServiceConfig() KeyServiceConfig {
	return KeyServiceConfig{
		RoleGrantTimeout: 10 * time.Second,
		RedeemLockTTL:    30 * time.Second,
		RedeemLockWait:   2 * time.Second,
	}
}

// KeyService handles generation, redemption, modification and deletion of keys.
type KeyService struct {
	store    *keystore.Store
	platform platform.Client
	revoker  *RoleRevoker
	sync     *SyncService
	locker   lock.Locker
	notifier *platform.Notifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	config   KeyServiceConfig

	newKeyID func() (string, error)
}

// NewKeyService creates a new KeyService. syncSvc may be nil when no
// secondary store is configured.
func NewKeyService(
	store *keystore.Store,
	client platform.Client,
	revoker *RoleRevoker,
	syncSvc *SyncService,
	locker lock.Locker,
	notifier *platform.Notifier,
	m *metrics.Metrics,
	logger zerolog.Logger,
	config KeyServiceConfig,
) *KeyService {
	if config.RedeemLockTTL <= 0 {
		config.RedeemLockTTL = DefaultKeyServiceConfig().RedeemLockTTL
	}
	if config.RedeemLockWait <= 0 {
		config.RedeemLockWait = DefaultKeyServiceConfig().RedeemLockWait
	}
	return &KeyService{
		store:    store,
		platform: client,
		revoker:  revoker,
		sync:     syncSvc,
		locker:   locker,
		notifier: notifier,
		metrics:  m,
		logger:   logger.With().Str("service", "keys").Logger(),
		config:   config,
		newKeyID: crypto.GenerateKeyID,
	}
}

// GenerateInput contains the data needed to generate a key.
type GenerateInput struct {
	// Duration is the key lifetime in duration notation, e.g. "7d".
	Duration string

	// CreatorID is the administrator issuing the key, if known.
	CreatorID *int64
}

// Generate creates a fresh key whose countdown starts now.
func (s *KeyService) Generate(ctx context.Context, input GenerateInput) (domain.KeyRecord, error) {
	seconds, err := duration.Parse(input.Duration)
	if err != nil {
		return domain.KeyRecord{}, err
	}

	for attempt := 1; attempt <= maxGenerateAttempts; attempt++ {
		id, err := s.newKeyID()
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to generate key ID")
			return domain.KeyRecord{}, fmt.Errorf("%w: %v", ErrInternalError, err)
		}

		rec, err := s.store.Create(ctx, id, seconds, input.CreatorID)
		if errors.Is(err, domain.ErrDuplicateKey) {
			s.logger.Warn().Int("attempt", attempt).Msg("key ID collision, regenerating")
			continue
		}
		if err != nil {
			return domain.KeyRecord{}, fmt.Errorf("%w: %v", ErrInternalError, err)
		}

		s.metrics.RecordGenerated()
		s.notifier.KeyGenerated(ctx, rec)

		s.logger.Info().
			Str("key", rec.MaskedID()).
			Str("duration", duration.Format(seconds)).
			Msg("key generated")

		return rec, nil
	}

	return domain.KeyRecord{}, fmt.Errorf("%w: key ID collided %d times", ErrInternalError, maxGenerateAttempts)
}

// RedeemInput contains the data needed to redeem a key.
type RedeemInput struct {
	KeyID      string
	RedeemerID int64

	// GuildID is where the role is granted. Zero grants in every joined guild.
	GuildID int64
}

// RedeemOutput contains the result of a redemption.
type RedeemOutput struct {
	Key domain.KeyRecord

	// RoleGranted reports whether the premium role was assigned.
	RoleGranted bool

	// Warning is set when the redemption committed but the role grant failed.
	// It wraps domain.ErrRoleGrantFailed.
	Warning error
}

// Redeem binds a key to the redeemer and grants the premium role.
// The key is checked for existence, prior redemption and expiry, in that order.
// The redemption is committed before the role grant; a failed grant is reported
// as a warning and does not undo the redemption.
func (s *KeyService) Redeem(ctx context.Context, input RedeemInput) (*RedeemOutput, error) {
	keyID := strings.TrimSpace(input.KeyID)

	rec, err := s.commitRedemption(ctx, keyID, input.RedeemerID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrKeyNotFound):
			s.metrics.RecordRedemption(metrics.ResultNotFound)
		case errors.Is(err, domain.ErrAlreadyRedeemed):
			s.metrics.RecordRedemption(metrics.ResultAlreadyRedeemed)
		case errors.Is(err, domain.ErrExpired):
			s.metrics.RecordRedemption(metrics.ResultExpired)
		default:
			s.metrics.RecordRedemption(metrics.ResultError)
			return nil, err
		}
		s.notifier.RedeemRejected(ctx, keyID, input.RedeemerID, err)
		s.logger.Info().
			Err(err).
			Str("key", domain.MaskKeyID(keyID)).
			Int64("user_id", input.RedeemerID).
			Msg("redemption rejected")
		return nil, err
	}

	out := &RedeemOutput{Key: rec}
	if err := s.grantRole(ctx, input.RedeemerID, input.GuildID); err != nil {
		s.metrics.RecordRoleGrantFailure()
		out.Warning = fmt.Errorf("%w: %v", domain.ErrRoleGrantFailed, err)
		s.logger.Warn().
			Err(err).
			Str("key", rec.MaskedID()).
			Int64("user_id", input.RedeemerID).
			Msg("key redeemed but role grant failed")
	} else {
		out.RoleGranted = true
	}

	s.metrics.RecordRedemption(metrics.ResultSuccess)
	s.notifier.KeyRedeemed(ctx, rec, input.GuildID)

	s.logger.Info().
		Str("key", rec.MaskedID()).
		Int64("user_id", input.RedeemerID).
		Bool("role_granted", out.RoleGranted).
		Msg("key redeemed")

	return out, nil
}

// commitRedemption validates and records the redemption under the key's lock.
func (s *KeyService) commitRedemption(ctx context.Context, keyID string, userID int64) (domain.KeyRecord, error) {
	held := lock.NewLock(s.locker, lock.Keys.KeyRedeem(keyID))
	delay := 10 * time.Millisecond
	retries := int(s.config.RedeemLockWait / delay)

	acquired, err := held.AcquireWithRetry(ctx, s.config.RedeemLockTTL, retries, delay)
	if err != nil {
		return domain.KeyRecord{}, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	if !acquired {
		return domain.KeyRecord{}, ErrKeyBusy
	}
	defer func() {
		if err := held.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Error().Err(err).Msg("failed to release redemption lock")
		}
	}()

	rec, ok := s.store.Get(keyID)
	if !ok {
		return domain.KeyRecord{}, domain.ErrKeyNotFound
	}
	if rec.IsRedeemed() {
		return domain.KeyRecord{}, domain.ErrAlreadyRedeemed
	}
	if !rec.IsActive(s.store.Now()) {
		return domain.KeyRecord{}, domain.ErrExpired
	}

	if !s.store.SetRedeemed(ctx, keyID, userID) {
		return domain.KeyRecord{}, domain.ErrKeyNotFound
	}

	rec.RedeemedBy = domain.Int64Ptr(userID)
	return rec, nil
}

// grantRole assigns the premium role in guildID, or in every joined guild when zero.
func (s *KeyService) grantRole(ctx context.Context, userID, guildID int64) error {
	if s.platform == nil {
		return nil
	}

	if s.config.RoleGrantTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RoleGrantTimeout)
		defer cancel()
	}

	guilds := []int64{guildID}
	if guildID == 0 {
		var err error
		if guilds, err = s.platform.Guilds(ctx); err != nil {
			return fmt.Errorf("failed to list guilds: %w", err)
		}
	}

	var granted int
	var lastErr error
	for _, g := range guilds {
		err := s.platform.AddRole(ctx, g, userID, s.config.PremiumRoleID)
		if err == nil {
			granted++
			continue
		}
		if guildID == 0 && errors.Is(err, platform.ErrMemberNotFound) {
			continue
		}
		lastErr = err
	}

	if lastErr != nil {
		return lastErr
	}
	if granted == 0 {
		return platform.ErrMemberNotFound
	}
	return nil
}

// ModifyDuration replaces a key's duration and restarts its countdown from now.
// This applies to redeemed keys too.
func (s *KeyService) ModifyDuration(ctx context.Context, keyID, text string) (domain.KeyRecord, error) {
	seconds, err := duration.Parse(text)
	if err != nil {
		return domain.KeyRecord{}, err
	}

	expiresAt := s.store.Now().Add(time.Duration(seconds) * time.Second)
	if !s.store.SetDuration(ctx, keyID, seconds, expiresAt) {
		return domain.KeyRecord{}, domain.ErrKeyNotFound
	}

	rec, ok := s.store.Get(keyID)
	if !ok {
		return domain.KeyRecord{}, domain.ErrKeyNotFound
	}

	s.metrics.RecordModified()
	s.notifier.KeyModified(ctx, rec)

	s.logger.Info().
		Str("key", rec.MaskedID()).
		Str("duration", duration.Format(seconds)).
		Time("expires_at", expiresAt).
		Msg("key duration modified")

	return rec, nil
}

// DeleteOutput contains the result of deleting a key.
type DeleteOutput struct {
	Key domain.KeyRecord

	// RoleRevoked reports whether the premium role was removed from the redeemer.
	RoleRevoked bool

	// Warning is set when the key was deleted but a follow-up step failed:
	// role revocation or removal from the secondary store.
	Warning error
}

// DeleteKey removes a key from both stores. If it was redeemed, the premium
// role is revoked unless the redeemer still holds another active key.
func (s *KeyService) DeleteKey(ctx context.Context, keyID string) (*DeleteOutput, error) {
	rec, ok := s.store.Get(keyID)
	if !ok {
		return nil, domain.ErrKeyNotFound
	}
	if !s.store.Delete(ctx, keyID) {
		return nil, domain.ErrKeyNotFound
	}

	out := &DeleteOutput{Key: rec}
	var warnings []error

	// The secondary row must go too, or the next Pull would import the key again.
	if s.sync != nil {
		if err := s.sync.Delete(ctx, keyID); err != nil {
			warnings = append(warnings, err)
			s.logger.Warn().Err(err).Str("key", rec.MaskedID()).Msg("key deleted but secondary row removal is pending")
		}
	}

	if rec.IsRedeemed() && s.revoker != nil {
		result, err := s.revoker.RevokeIfInactive(ctx, *rec.RedeemedBy, metrics.ReasonDeletion)
		if err != nil {
			warnings = append(warnings, err)
			s.logger.Warn().Err(err).Str("key", rec.MaskedID()).Msg("key deleted but role revocation failed")
		}
		if result != nil {
			out.RoleRevoked = len(result.Guilds) > 0
		}
	}

	out.Warning = errors.Join(warnings...)

	s.metrics.RecordDeleted()
	s.notifier.KeyDeleted(ctx, rec, out.RoleRevoked)

	s.logger.Info().
		Str("key", rec.MaskedID()).
		Bool("role_revoked", out.RoleRevoked).
		Msg("key deleted")

	return out, nil
}

// GetKey returns a key by ID.
func (s *KeyService) GetKey(keyID string) (domain.KeyRecord, error) {
	rec, ok := s.store.Get(strings.TrimSpace(keyID))
	if !ok {
		return domain.KeyRecord{}, domain.ErrKeyNotFound
	}
	return rec, nil
}

// ListActive returns all unexpired keys.
func (s *KeyService) ListActive() []domain.KeyRecord {
	return s.store.ListActive()
}

// ListAll returns every key, expired or not.
func (s *KeyService) ListAll() []domain.KeyRecord {
	return s.store.All()
}

// PersistError returns the error of the store's most recent save.
func (s *KeyService) PersistError() error {
	return s.store.LastPersistError()
}

// Stats aggregates the authoritative store and refreshes the key gauges.
func (s *KeyService) Stats() domain.KeyStats {
	stats := s.store.Stats()
	s.metrics.SetKeyStats(stats)
	return stats
}

// UserKeys is the set of keys redeemed by one user.
type UserKeys struct {
	UserID    int64              `json:"user_id"`
	Keys      []domain.KeyRecord `json:"keys"`
	HasActive bool               `json:"has_active"`
}

// KeysForUser returns every key redeemed by userID.
func (s *KeyService) KeysForUser(userID int64) UserKeys {
	return UserKeys{
		UserID:    userID,
		Keys:      s.store.GetByRedeemer(userID),
		HasActive: s.store.HasActive(userID),
	}
}

// Now returns the store clock's current time.
func (s *KeyService) Now() time.Time {
	return s.store.Now()
}
