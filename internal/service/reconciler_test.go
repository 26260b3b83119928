package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/premium-keys/internal/domain"
	"github.com/prn-tf/premium-keys/internal/lock"
	"github.com/prn-tf/premium-keys/internal/metrics"
	"github.com/prn-tf/premium-keys/internal/platform"
)

func newTestReconciler(f *fixture, client platform.Client, syncSvc *SyncService) *Reconciler {
	revoker := NewRoleRevoker(f.store, client, testRole, f.metrics, zerolog.Nop())
	return NewReconciler(f.store, syncSvc, revoker, client, f.notifier, f.locker, f.metrics, zerolog.Nop(), ReconcilerConfig{
		Interval:   time.Hour,
		ManualWait: 50 * time.Millisecond,
	})
}

func (f *fixture) directMessages(userID int64) []string {
	var out []string
	for _, m := range f.client.Messages() {
		if m.UserID == userID {
			out = append(out, m.Content)
		}
	}
	return out
}

func TestReconciler_RemovesExpiredRoles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addKey(t, "k1", time.Hour, domain.Int64Ptr(42))
	require.NoError(t, f.client.AddRole(ctx, guildA, 42, testRole))
	require.NoError(t, f.client.AddRole(ctx, guildB, 42, testRole))

	r := newTestReconciler(f, f.client, nil)

	// Nothing is expired yet.
	result, err := r.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, result.Expired)
	require.True(t, f.client.HasRole(guildA, 42, testRole))

	f.clock.Advance(time.Hour)

	result, err = r.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Expired)
	require.Equal(t, 2, result.RolesRemoved)
	require.Equal(t, 2, result.MessagesSent)
	require.Equal(t, 0, result.Errors)
	require.Nil(t, result.Pull)

	require.False(t, f.client.HasRole(guildA, 42, testRole))
	require.False(t, f.client.HasRole(guildB, 42, testRole))
	require.Equal(t, []string{ExpiryMessage, ExpiryMessage}, f.directMessages(42))
	require.Equal(t, 2.0, testutil.ToFloat64(f.metrics.RolesRevoked.WithLabelValues(metrics.ReasonExpiry)))
	require.Equal(t, 2.0, testutil.ToFloat64(f.metrics.ReconcileRuns))

	// The record itself is kept.
	rec, ok := f.store.Get("k1")
	require.True(t, ok)
	require.Equal(t, int64(42), *rec.RedeemedBy)

	// A later cycle finds no role to remove and stays quiet.
	result, err = r.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Expired)
	require.Equal(t, 0, result.RolesRemoved)
	require.Len(t, f.directMessages(42), 2)
}

func TestReconciler_SkipsHoldersWithActiveKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addKey(t, "old", time.Hour, domain.Int64Ptr(42))
	f.addKey(t, "older", 30*time.Minute, domain.Int64Ptr(42))
	f.addKey(t, "new", 48*time.Hour, domain.Int64Ptr(42))
	require.NoError(t, f.client.AddRole(ctx, guildA, 42, testRole))

	f.clock.Advance(2 * time.Hour)

	result, err := newTestReconciler(f, f.client, nil).RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, result.Expired)
	require.Equal(t, 1, result.UsersSkipped, "a holder is examined once per cycle")
	require.Equal(t, 0, result.RolesRemoved)
	require.True(t, f.client.HasRole(guildA, 42, testRole))
	require.Empty(t, f.directMessages(42))
}

func TestReconciler_GuildFailureDoesNotAbortCycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addKey(t, "k1", time.Hour, domain.Int64Ptr(42))
	f.addKey(t, "k2", time.Hour, domain.Int64Ptr(43))
	for _, user := range []int64{42, 43} {
		require.NoError(t, f.client.AddRole(ctx, guildA, user, testRole))
		require.NoError(t, f.client.AddRole(ctx, guildB, user, testRole))
	}
	f.client.RemoveMember(guildB, 43)

	flaky := &flakyPlatform{MemoryClient: f.client, failGuild: guildA, err: errors.New("gateway timeout")}
	f.clock.Advance(time.Hour)

	result, err := newTestReconciler(f, flaky, nil).RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, result.Expired)
	require.Equal(t, 2, result.Errors)
	require.Equal(t, 1, result.RolesRemoved)

	require.True(t, f.client.HasRole(guildA, 42, testRole))
	require.False(t, f.client.HasRole(guildB, 42, testRole))
	require.True(t, f.client.HasRole(guildA, 43, testRole))
}

func TestReconciler_DirectMessageFailureIsCounted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addKey(t, "k1", time.Hour, domain.Int64Ptr(42))
	require.NoError(t, f.client.AddRole(ctx, guildA, 42, testRole))
	f.client.Fail(platform.OpSendDirectMessage, errors.New("cannot send messages to this user"))

	f.clock.Advance(time.Hour)

	result, err := newTestReconciler(f, f.client, nil).RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.RolesRemoved)
	require.Equal(t, 0, result.MessagesSent)
	require.False(t, f.client.HasRole(guildA, 42, testRole))
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.NotificationErrors))
}

func TestReconciler_RunOnceWhileInProgress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := newTestReconciler(f, f.client, nil)

	ok, err := f.locker.Acquire(ctx, lock.Keys.Reconcile(), "other-replica", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = r.RunOnce(ctx)
	require.ErrorIs(t, err, ErrReconcileInProgress)

	_, err = f.locker.Release(ctx, lock.Keys.Reconcile(), "other-replica")
	require.NoError(t, err)

	_, err = r.RunOnce(ctx)
	require.NoError(t, err)
}

func TestReconciler_StartStop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addKey(t, "k1", time.Hour, domain.Int64Ptr(42))
	require.NoError(t, f.client.AddRole(ctx, guildA, 42, testRole))
	f.clock.Advance(time.Hour)

	r := newTestReconciler(f, f.client, nil)
	r.Start()
	r.Start()

	require.Eventually(t, func() bool {
		return !f.client.HasRole(guildA, 42, testRole)
	}, 5*time.Second, 10*time.Millisecond)

	r.Stop()
	r.Stop()

	held, err := f.locker.IsHeld(ctx, lock.Keys.Reconcile())
	require.NoError(t, err)
	require.False(t, held)
}

func TestReconciler_RunReturnsOnCancel(t *testing.T) {
	f := newFixture(t)
	r := newTestReconciler(f, f.client, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(f.metrics.ReconcileRuns) >= 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestReconciler_SyncsSecondaryStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	repo := NewMockKeyRepository()

	// A key written elsewhere and already expired, plus a local key.
	remote := domain.KeyRecord{
		ID:              "remote",
		DurationSeconds: 60,
		CreatedAt:       baseTime.Add(-time.Hour),
		ExpiresAt:       baseTime.Add(-time.Minute),
		RedeemedBy:      domain.Int64Ptr(77),
	}
	require.NoError(t, repo.Insert(ctx, &remote))
	require.NoError(t, f.client.AddRole(ctx, guildA, 77, testRole))
	f.addKey(t, "local", time.Hour, nil)

	syncSvc := NewSyncService(f.store, repo, f.metrics, zerolog.Nop())
	result, err := newTestReconciler(f, f.client, syncSvc).RunOnce(ctx)
	require.NoError(t, err)

	require.NotNil(t, result.Pull)
	require.Equal(t, 1, result.Pull.Inserted)
	require.NotNil(t, result.Push)
	require.Equal(t, 1, result.Expired)
	require.Equal(t, 1, result.RolesRemoved)
	require.False(t, f.client.HasRole(guildA, 77, testRole))

	_, ok := f.store.Get("remote")
	require.True(t, ok)
	require.NotNil(t, repo.row("local"))
}
