package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/prn-tf/premium-keys/internal/domain"
	"github.com/prn-tf/premium-keys/internal/pkg/duration"
	"github.com/prn-tf/premium-keys/internal/repository"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// keyRepository implements repository.KeyRepository for PostgreSQL.
type keyRepository struct {
	q Querier
}

// NewKeyRepository creates a new PostgreSQL key repository.
func NewKeyRepository(db *DB) repository.KeyRepository {
	return &keyRepository{q: db.Pool}
}

const keyColumns = `key, duration_seconds, created_at, expires_at, created_by, redeemed_by`

// Insert adds a new row for rec.
func (r *keyRepository) Insert(ctx context.Context, rec *domain.KeyRecord) error {
	query := `
		INSERT INTO premium_keys (key, duration_seconds, duration_label, created_at, expires_at, created_by, redeemed_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.q.Exec(ctx, query,
		rec.ID,
		rec.DurationSeconds,
		duration.Label(rec.DurationSeconds),
		rec.CreatedAt.UTC(),
		rec.ExpiresAt.UTC(),
		rec.CreatedBy,
		rec.RedeemedBy,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrDuplicateKey
		}
		return fmt.Errorf("failed to insert key: %w", err)
	}

	return nil
}

// GetByKey retrieves a key by its ID.
func (r *keyRepository) GetByKey(ctx context.Context, keyID string) (*domain.KeyRecord, error) {
	query := `SELECT ` + keyColumns + ` FROM premium_keys WHERE key = $1`

	rec, err := scanKey(r.q.QueryRow(ctx, query, keyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get key: %w", err)
	}

	return rec, nil
}

// List returns all keys ordered by creation time.
func (r *keyRepository) List(ctx context.Context) ([]*domain.KeyRecord, error) {
	query := `SELECT ` + keyColumns + ` FROM premium_keys ORDER BY created_at, key`

	rows, err := r.q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []*domain.KeyRecord
	for rows.Next() {
		rec, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating keys: %w", err)
	}

	return keys, nil
}

// UpdateRedeemedBy sets the redeemer of keyID.
func (r *keyRepository) UpdateRedeemedBy(ctx context.Context, keyID string, redeemedBy *int64) error {
	query := `UPDATE premium_keys SET redeemed_by = $1 WHERE key = $2`

	tag, err := r.q.Exec(ctx, query, redeemedBy, keyID)
	if err != nil {
		return fmt.Errorf("failed to update key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrKeyNotFound
	}

	return nil
}

// Delete removes the row of keyID.
func (r *keyRepository) Delete(ctx context.Context, keyID string) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM premium_keys WHERE key = $1`, keyID)
	if err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrKeyNotFound
	}

	return nil
}

// Stats aggregates all rows relative to now.
func (r *keyRepository) Stats(ctx context.Context, now time.Time) (domain.KeyStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE expires_at > $1),
			COUNT(*) FILTER (WHERE redeemed_by IS NOT NULL)
		FROM premium_keys
	`

	var total, active, redeemed int64
	if err := r.q.QueryRow(ctx, query, now.UTC()).Scan(&total, &active, &redeemed); err != nil {
		return domain.KeyStats{}, fmt.Errorf("failed to compute key stats: %w", err)
	}

	return domain.KeyStats{
		Total:    int(total),
		Active:   int(active),
		Redeemed: int(redeemed),
		Expired:  int(total - active),
	}, nil
}

func scanKey(row pgx.Row) (*domain.KeyRecord, error) {
	var rec domain.KeyRecord
	err := row.Scan(
		&rec.ID,
		&rec.DurationSeconds,
		&rec.CreatedAt,
		&rec.ExpiresAt,
		&rec.CreatedBy,
		&rec.RedeemedBy,
	)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	return &rec, nil
}

var _ repository.KeyRepository = (*keyRepository)(nil)
