package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/prn-tf/premium-keys/internal/config"
	"github.com/prn-tf/premium-keys/internal/domain"
	"github.com/prn-tf/premium-keys/internal/repository"
)

func setupPostgres(t *testing.T) *repository.Repositories {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("premium"),
		tcpostgres.WithUsername("premium"),
		tcpostgres.WithPassword("premium"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	repos, err := Open(ctx, config.DatabaseConfig{Driver: "postgres", URL: dsn}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })

	return repos
}

func TestKeyRepository_Postgres(t *testing.T) {
	repos := setupPostgres(t)
	ctx := context.Background()
	repo := repos.Keys

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	active := &domain.KeyRecord{
		ID:              "active-key",
		DurationSeconds: 3600,
		CreatedAt:       now.Add(-time.Hour),
		ExpiresAt:       now.Add(time.Hour),
		CreatedBy:       domain.Int64Ptr(1),
	}
	expired := &domain.KeyRecord{
		ID:              "expired-key",
		DurationSeconds: 60,
		CreatedAt:       now.Add(-30 * time.Minute),
		ExpiresAt:       now.Add(-29 * time.Minute),
	}
	require.NoError(t, repo.Insert(ctx, active))
	require.NoError(t, repo.Insert(ctx, expired))
	require.ErrorIs(t, repo.Insert(ctx, active), domain.ErrDuplicateKey)

	got, err := repo.GetByKey(ctx, "active-key")
	require.NoError(t, err)
	require.True(t, active.ExpiresAt.Equal(got.ExpiresAt))
	require.Equal(t, int64(1), *got.CreatedBy)
	require.Nil(t, got.RedeemedBy)

	_, err = repo.GetByKey(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrKeyNotFound)

	require.NoError(t, repo.UpdateRedeemedBy(ctx, "expired-key", domain.Int64Ptr(9)))
	require.ErrorIs(t, repo.UpdateRedeemedBy(ctx, "missing", nil), domain.ErrKeyNotFound)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "active-key", list[0].ID)
	require.Equal(t, int64(9), *list[1].RedeemedBy)

	stats, err := repo.Stats(ctx, now)
	require.NoError(t, err)
	require.Equal(t, domain.KeyStats{Total: 2, Active: 1, Redeemed: 1, Expired: 1}, stats)

	require.NoError(t, repo.Delete(ctx, "active-key"))
	require.ErrorIs(t, repo.Delete(ctx, "active-key"), domain.ErrKeyNotFound)
	list, err = repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	version, err := repos.Migrator.Version(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), version)
}
