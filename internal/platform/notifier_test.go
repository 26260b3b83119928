package platform

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/premium-keys/internal/domain"
	"github.com/prn-tf/premium-keys/internal/metrics"
)

func TestNotifier_AuditEvents(t *testing.T) {
	ctx := context.Background()
	client := NewMemoryClient(nil, zerolog.Nop())
	n := NewNotifier(client, 100, 200, nil, zerolog.Nop())

	rec := domain.KeyRecord{
		ID:              "0123456789abcdef0123456789abcdef",
		DurationSeconds: 86400,
		ExpiresAt:       time.Now().Add(24 * time.Hour),
		CreatedBy:       domain.Int64Ptr(1),
		RedeemedBy:      domain.Int64Ptr(2),
	}

	n.Startup(ctx, "v1.0.0")
	n.KeyGenerated(ctx, rec)
	n.KeyRedeemed(ctx, rec, 10)
	n.RedeemRejected(ctx, rec.ID, 3, domain.ErrAlreadyRedeemed)
	n.RedeemRejected(ctx, rec.ID, 3, domain.ErrExpired)
	n.KeyModified(ctx, rec)
	n.KeyDeleted(ctx, rec, true)
	n.RoleExpired(ctx, rec, 10)

	msgs := client.Messages()
	require.Len(t, msgs, 8)
	require.Equal(t, int64(200), msgs[0].ChannelID)
	require.Contains(t, msgs[0].Content, "v1.0.0")
	for _, m := range msgs[1:] {
		require.Equal(t, int64(100), m.ChannelID)
		require.NotContains(t, m.Content, rec.ID, "key IDs are masked")
	}
	require.Contains(t, msgs[1].Content, "1 day")
	require.Contains(t, msgs[3].Content, "Duplicate")
	require.Contains(t, msgs[4].Content, "Expired Key")
	require.Contains(t, msgs[6].Content, "role revoked: true")
}

func TestNotifier_BestEffort(t *testing.T) {
	client := NewMemoryClient(nil, zerolog.Nop())
	client.Fail(OpSendChannelMessage, errors.New("missing access"))
	m := metrics.New("test")
	n := NewNotifier(client, 100, 0, m, zerolog.Nop())

	n.KeyDeleted(context.Background(), domain.KeyRecord{ID: "k"}, false)
	n.Startup(context.Background(), "dev") // status channel disabled

	require.Equal(t, 1.0, testutil.ToFloat64(m.NotificationErrors))

	var nilNotifier *Notifier
	nilNotifier.KeyGenerated(context.Background(), domain.KeyRecord{})
}
