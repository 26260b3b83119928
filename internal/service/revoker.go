package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/prn-tf/premium-keys/internal/domain"
	"github.com/prn-tf/premium-keys/internal/keystore"
	"github.com/prn-tf/premium-keys/internal/metrics"
	"github.com/prn-tf/premium-keys/internal/platform"
)

// RoleRevoker removes the premium role from users who no longer hold an active key.
type RoleRevoker struct {
	store    *keystore.Store
	platform platform.Client
	roleID   int64
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewRoleRevoker creates a new RoleRevoker.
func NewRoleRevoker(store *keystore.Store, client platform.Client, roleID int64, m *metrics.Metrics, logger zerolog.Logger) *RoleRevoker {
	return &RoleRevoker{
		store:    store,
		platform: client,
		roleID:   roleID,
		metrics:  m,
		logger:   logger.With().Str("service", "revoker").Logger(),
	}
}

// RevokeResult contains the result of a revocation.
type RevokeResult struct {
	// StillActive is true when the user holds another active key and was left alone.
	StillActive bool

	// Guilds lists the guilds the role was removed from.
	Guilds []int64

	// Errors is the number of guilds where lookup or removal failed.
	Errors int
}

// RevokeIfInactive removes the premium role from userID in every joined guild,
// unless the user still holds an active key. A failure in one guild does not
// stop the others; the returned error wraps domain.ErrRoleRevokeFailed.
func (r *RoleRevoker) RevokeIfInactive(ctx context.Context, userID int64, reason string) (*RevokeResult, error) {
	result := &RevokeResult{}

	if r.store.HasActive(userID) {
		result.StillActive = true
		r.logger.Debug().Int64("user_id", userID).Msg("user still holds an active key, keeping role")
		return result, nil
	}

	guilds, err := r.platform.Guilds(ctx)
	if err != nil {
		return result, fmt.Errorf("%w: failed to list guilds: %v", domain.ErrRoleRevokeFailed, err)
	}

	var lastErr error
	for _, guildID := range guilds {
		removed, err := r.revokeInGuild(ctx, guildID, userID)
		if err != nil {
			result.Errors++
			lastErr = err
			r.logger.Error().
				Err(err).
				Int64("guild_id", guildID).
				Int64("user_id", userID).
				Msg("failed to remove premium role")
			continue
		}
		if removed {
			result.Guilds = append(result.Guilds, guildID)
			r.metrics.RecordRoleRevoked(reason)
			r.logger.Info().
				Int64("guild_id", guildID).
				Int64("user_id", userID).
				Str("reason", reason).
				Msg("removed premium role")
		}
	}

	if lastErr != nil {
		return result, fmt.Errorf("%w: %d guild(s) failed: %v", domain.ErrRoleRevokeFailed, result.Errors, lastErr)
	}
	return result, nil
}

// revokeInGuild removes the role if the member holds it.
func (r *RoleRevoker) revokeInGuild(ctx context.Context, guildID, userID int64) (bool, error) {
	member, err := r.platform.GetMember(ctx, guildID, userID)
	if err != nil {
		if errors.Is(err, platform.ErrMemberNotFound) {
			return false, nil
		}
		return false, err
	}
	if !member.HasRole(r.roleID) {
		return false, nil
	}
	if err := r.platform.RemoveRole(ctx, guildID, userID, r.roleID); err != nil {
		return false, err
	}
	return true, nil
}
