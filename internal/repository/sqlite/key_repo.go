package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prn-tf/premium-keys/internal/domain"
	"github.com/prn-tf/premium-keys/internal/pkg/duration"
	"github.com/prn-tf/premium-keys/internal/repository"
)

// keyRepository implements repository.KeyRepository for SQLite.
type keyRepository struct {
	db *DB
}

// NewKeyRepository creates a new SQLite key repository.
func NewKeyRepository(db *DB) repository.KeyRepository {
	return &keyRepository{db: db}
}

const keyColumns = `key, duration_seconds, created_at, expires_at, created_by, redeemed_by`

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Insert adds a new row for rec.
func (r *keyRepository) Insert(ctx context.Context, rec *domain.KeyRecord) error {
	query := `
		INSERT INTO premium_keys (key, duration_seconds, duration_label, created_at, expires_at, created_by, redeemed_by)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.db.ExecContext(ctx, query,
		rec.ID,
		rec.DurationSeconds,
		duration.Label(rec.DurationSeconds),
		rec.CreatedAt.UTC().Format(timeLayout),
		rec.ExpiresAt.UTC().Format(timeLayout),
		nullInt64(rec.CreatedBy),
		nullInt64(rec.RedeemedBy),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateKey
		}
		return fmt.Errorf("failed to insert key: %w", err)
	}

	return nil
}

// GetByKey retrieves a key by its ID.
func (r *keyRepository) GetByKey(ctx context.Context, keyID string) (*domain.KeyRecord, error) {
	query := `SELECT ` + keyColumns + ` FROM premium_keys WHERE key = ?`

	rec, err := scanKey(r.db.db.QueryRowContext(ctx, query, keyID))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get key: %w", err)
	}

	return rec, nil
}

// List returns all keys ordered by creation time.
func (r *keyRepository) List(ctx context.Context) ([]*domain.KeyRecord, error) {
	query := `SELECT ` + keyColumns + ` FROM premium_keys ORDER BY created_at, key`

	rows, err := r.db.db.QueryContext(ctx, query)
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
	query := `UPDATE premium_keys SET redeemed_by = ? WHERE key = ?`

	result, err := r.db.db.ExecContext(ctx, query, nullInt64(redeemedBy), keyID)
	if err != nil {
		return fmt.Errorf("failed to update key: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrKeyNotFound
	}

	return nil
}

// Delete removes the row of keyID.
func (r *keyRepository) Delete(ctx context.Context, keyID string) error {
	result, err := r.db.db.ExecContext(ctx, `DELETE FROM premium_keys WHERE key = ?`, keyID)
	if err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrKeyNotFound
	}

	return nil
}

// Stats aggregates all rows relative to now.
func (r *keyRepository) Stats(ctx context.Context, now time.Time) (domain.KeyStats, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN expires_at > ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN redeemed_by IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM premium_keys
	`

	var stats domain.KeyStats
	err := r.db.db.QueryRowContext(ctx, query, now.UTC().Format(timeLayout)).
		Scan(&stats.Total, &stats.Active, &stats.Redeemed)
	if err != nil {
		return domain.KeyStats{}, fmt.Errorf("failed to compute key stats: %w", err)
	}
	stats.Expired = stats.Total - stats.Active

	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(row rowScanner) (*domain.KeyRecord, error) {
	var (
		rec        domain.KeyRecord
		createdAt  string
		expiresAt  string
		createdBy  sql.NullInt64
		redeemedBy sql.NullInt64
	)

	if err := row.Scan(&rec.ID, &rec.DurationSeconds, &createdAt, &expiresAt, &createdBy, &redeemedBy); err != nil {
		return nil, err
	}

	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("invalid created_at %q: %w", createdAt, err)
	}
	if rec.ExpiresAt, err = time.Parse(time.RFC3339Nano, expiresAt); err != nil {
		return nil, fmt.Errorf("invalid expires_at %q: %w", expiresAt, err)
	}
	if createdBy.Valid {
		rec.CreatedBy = domain.Int64Ptr(createdBy.Int64)
	}
	if redeemedBy.Valid {
		rec.RedeemedBy = domain.Int64Ptr(redeemedBy.Int64)
	}

	return &rec, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

var _ repository.KeyRepository = (*keyRepository)(nil)
