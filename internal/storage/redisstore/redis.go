// Package redisstore provides a snapshot backend on Redis.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/prn-tf/premium-keys/internal/storage"
)

// DefaultKey is the Redis key holding the snapshot.
const DefaultKey = "premium:keys:snapshot"

// Backend stores the snapshot as a single Redis string.
// The write timestamp is stored next to it under <key>:updated_at.
type Backend struct {
	client *redis.Client
	key    string
	logger zerolog.Logger
}

// NewBackend creates a Redis snapshot backend. An empty key uses DefaultKey.
func NewBackend(client *redis.Client, key string, logger zerolog.Logger) *Backend {
	if key == "" {
		key = DefaultKey
	}
	return &Backend{
		client: client,
		key:    key,
		logger: logger.With().Str("backend", "redis").Str("key", key).Logger(),
	}
}

// Ping checks the Redis connection.
func (b *Backend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Read implements storage.Backend.
func (b *Backend) Read(ctx context.Context) ([]byte, error) {
	data, err := b.client.Get(ctx, b.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot from redis: %w", err)
	}
	return data, nil
}

// Write implements storage.Backend.
func (b *Backend) Write(ctx context.Context, data []byte) error {
	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.key, data, 0)
	pipe.Set(ctx, b.key+":updated_at", strconv.FormatInt(time.Now().Unix(), 10), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write snapshot to redis: %w", err)
	}

	b.logger.Debug().Int("bytes", len(data)).Msg("snapshot written")
	return nil
}

// UpdatedAt returns when the snapshot was last written, or zero if never.
func (b *Backend) UpdatedAt(ctx context.Context) (time.Time, error) {
	v, err := b.client.Get(ctx, b.key+":updated_at").Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(v, 0).UTC(), nil
}

// Name implements storage.Backend.
func (b *Backend) Name() string {
	return "redis"
}

var _ storage.Backend = (*Backend)(nil)
