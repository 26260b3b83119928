package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/premium-keys/internal/domain"
	"github.com/prn-tf/premium-keys/internal/metrics"
	"github.com/prn-tf/premium-keys/internal/pkg/duration"
)

// Notifier posts key lifecycle events to the audit log channel and the
// startup message to the status channel. Delivery is best-effort: failures
// are logged and counted, never returned. A nil *Notifier is a no-op.
type Notifier struct {
	client          Client
	logChannelID    int64
	statusChannelID int64
	metrics         *metrics.Metrics
	clock           domain.Clock
	logger          zerolog.Logger
}

// NewNotifier creates a notifier. A zero channel ID disables that channel.
func NewNotifier(client Client, logChannelID, statusChannelID int64, m *metrics.Metrics, logger zerolog.Logger) *Notifier {
	return &Notifier{
		client:          client,
		logChannelID:    logChannelID,
		statusChannelID: statusChannelID,
		metrics:         m,
		clock:           domain.SystemClock,
		logger:          logger.With().Str("component", "notifier").Logger(),
	}
}

// Startup announces that the service is online.
func (n *Notifier) Startup(ctx context.Context, version string) {
	if n == nil {
		return
	}
	n.post(ctx, n.statusChannelID, "startup", fmt.Sprintf(
		"Bot Online: premium key management is ready (version %s, %s)",
		version, n.clock().Format(time.RFC3339)))
}

// KeyGenerated records a new key.
func (n *Notifier) KeyGenerated(ctx context.Context, rec domain.KeyRecord) {
	if n == nil {
		return
	}
	n.audit(ctx, "generated", fmt.Sprintf(
		"Key Generated: %s for %s by %s, expires %s",
		rec.MaskedID(), duration.Format(rec.DurationSeconds), userRef(rec.CreatedBy), rec.ExpiresAt.Format(time.RFC3339)))
}

// KeyRedeemed records a successful redemption.
func (n *Notifier) KeyRedeemed(ctx context.Context, rec domain.KeyRecord, guildID int64) {
	if n == nil {
		return
	}
	n.audit(ctx, "redeemed", fmt.Sprintf(
		"Key Redeemed: %s by %s in guild %d, access ends %s (%s)",
		rec.MaskedID(), userRef(rec.RedeemedBy), guildID,
		rec.ExpiresAt.Format(time.RFC3339), duration.Until(n.clock(), rec.ExpiresAt)))
}

// RedeemRejected records a failed redemption attempt.
func (n *Notifier) RedeemRejected(ctx context.Context, keyID string, userID int64, reason error) {
	if n == nil {
		return
	}

	title := "Failed Key Redemption"
	switch {
	case errors.Is(reason, domain.ErrAlreadyRedeemed):
		title = "Duplicate Key Redemption Attempt"
	case errors.Is(reason, domain.ErrExpired):
		title = "Expired Key Redemption Attempt"
	}
	n.audit(ctx, "redeem_rejected", fmt.Sprintf(
		"%s: %s by %s: %v", title, domain.MaskKeyID(keyID), userRef(&userID), reason))
}

// KeyModified records a duration change.
func (n *Notifier) KeyModified(ctx context.Context, rec domain.KeyRecord) {
	if n == nil {
		return
	}
	n.audit(ctx, "modified", fmt.Sprintf(
		"Key Duration Modified: %s now %s, expires %s",
		rec.MaskedID(), duration.Format(rec.DurationSeconds), rec.ExpiresAt.Format(time.RFC3339)))
}

// KeyDeleted records a deletion.
func (n *Notifier) KeyDeleted(ctx context.Context, rec domain.KeyRecord, roleRevoked bool) {
	if n == nil {
		return
	}
	msg := fmt.Sprintf("Key Deleted: %s", rec.MaskedID())
	if rec.IsRedeemed() {
		msg += fmt.Sprintf(" (redeemed by %s, role revoked: %t)", userRef(rec.RedeemedBy), roleRevoked)
	}
	n.audit(ctx, "deleted", msg)
}

// RoleExpired records a role removal caused by key expiry.
func (n *Notifier) RoleExpired(ctx context.Context, rec domain.KeyRecord, guildID int64) {
	if n == nil {
		return
	}
	n.audit(ctx, "expired", fmt.Sprintf(
		"Premium Expired: role removed from %s in guild %d, key %s expired %s",
		userRef(rec.RedeemedBy), guildID, rec.MaskedID(), duration.Until(n.clock(), rec.ExpiresAt)))
}

func (n *Notifier) audit(ctx context.Context, event, content string) {
	n.post(ctx, n.logChannelID, event, content)
}

func (n *Notifier) post(ctx context.Context, channelID int64, event, content string) {
	if channelID == 0 || n.client == nil {
		return
	}
	if err := n.client.SendChannelMessage(ctx, channelID, content); err != nil {
		n.metrics.RecordNotificationError()
		n.logger.Warn().
			Err(fmt.Errorf("%w: %v", domain.ErrNotificationFailed, err)).
			Str("event", event).
			Int64("channel_id", channelID).
			Msg("Failed to post notification")
	}
}

func userRef(id *int64) string {
	if id == nil {
		return "unknown user"
	}
	return fmt.Sprintf("<@%d>", *id)
}
