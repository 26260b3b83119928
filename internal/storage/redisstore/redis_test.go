package redisstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/premium-keys/internal/storage"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}

func TestBackend_ReadWrite(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	b := NewBackend(client, "", zerolog.Nop())

	require.NoError(t, b.Ping(ctx))

	_, err := b.Read(ctx)
	require.ErrorIs(t, err, storage.ErrSnapshotNotFound)

	updated, err := b.UpdatedAt(ctx)
	require.NoError(t, err)
	require.True(t, updated.IsZero())

	require.NoError(t, b.Write(ctx, []byte(`{"k":{}}`)))

	data, err := b.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, `{"k":{}}`, string(data))

	raw, err := mr.Get(DefaultKey)
	require.NoError(t, err)
	require.Equal(t, `{"k":{}}`, raw)

	updated, err = b.UpdatedAt(ctx)
	require.NoError(t, err)
	require.False(t, updated.IsZero())
}

func TestBackend_ServerDown(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	b := NewBackend(client, "custom", zerolog.Nop())

	mr.Close()

	require.Error(t, b.Write(ctx, []byte("{}")))
	_, err := b.Read(ctx)
	require.Error(t, err)
	require.NotErrorIs(t, err, storage.ErrSnapshotNotFound)
}
