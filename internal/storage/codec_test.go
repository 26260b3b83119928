package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prn-tf/premium-keys/internal/domain"
)

func TestEncodeDecode_PreservesRecords(t *testing.T) {
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	records := []domain.KeyRecord{
		{
			ID:              "a6f1c2d4-0000-4000-8000-000000000001",
			DurationSeconds: 604800,
			CreatedAt:       created,
			ExpiresAt:       created.Add(7 * 24 * time.Hour),
			CreatedBy:       domain.Int64Ptr(100),
		},
		{
			ID:              "a6f1c2d4-0000-4000-8000-000000000002",
			DurationSeconds: 3600,
			CreatedAt:       created.Add(time.Minute),
			ExpiresAt:       created.Add(time.Minute + time.Hour),
			RedeemedBy:      domain.Int64Ptr(200),
		},
	}

	data, err := Encode(records)
	require.NoError(t, err)
	require.Contains(t, string(data), `"duration_label": "1w"`)

	decoded, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, records, decoded)
}

func TestDecode_LegacyDocument(t *testing.T) {
	legacy := []byte(`{
  "k1": {
    "key": "k1",
    "duration_seconds": 86400,
    "duration_str": "1d",
    "expiry_date": "2025-01-02T12:00:00.123456",
    "user_id_created": 11,
    "user_id_redeemed": 22,
    "created_at": "2025-01-01T12:00:00.123456"
  },
  "k2": {
    "key": "k2",
    "duration_str": "2h",
    "expiry_date": "not a date",
    "user_id_created": 11,
    "user_id_redeemed": null
  }
}`)

	records, err := Decode(legacy)
	require.NoError(t, err)
	require.Len(t, records, 2)

	byID := map[string]domain.KeyRecord{}
	for _, r := range records {
		byID[r.ID] = r
	}

	k1 := byID["k1"]
	require.Equal(t, int64(86400), k1.DurationSeconds)
	require.Equal(t, int64(22), *k1.RedeemedBy)
	require.Equal(t, int64(11), *k1.CreatedBy)
	require.Equal(t, 2025, k1.ExpiresAt.Year())
	require.Equal(t, 2, k1.ExpiresAt.Day())

	k2 := byID["k2"]
	require.Equal(t, int64(7200), k2.DurationSeconds)
	require.Nil(t, k2.RedeemedBy)
	require.Equal(t, unparseableExpiry, k2.ExpiresAt)
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode([]byte("{not json"))
	require.Error(t, err)

	records, err := Decode(nil)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestJSONStore(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	store := NewJSONStore(backend)

	records, err := store.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, records)

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	in := []domain.KeyRecord{{ID: "x", DurationSeconds: 60, CreatedAt: now, ExpiresAt: now.Add(time.Minute)}}
	require.NoError(t, store.Save(ctx, in))
	require.Equal(t, 1, backend.Writes())

	out, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, in, out)

	backend.FailWrites = errors.New("disk full")
	err = store.Save(ctx, in)
	require.ErrorIs(t, err, domain.ErrPersistenceFailure)

	backend.FailReads = errors.New("io error")
	_, err = store.Load(ctx)
	require.ErrorIs(t, err, domain.ErrPersistenceFailure)
}
