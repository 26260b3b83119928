package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/prn-tf/premium-keys/internal/domain"
	"github.com/prn-tf/premium-keys/internal/pkg/duration"
)

// unparseableExpiry is assigned to records whose expiry cannot be read,
// which makes them expired.
var unparseableExpiry = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// legacyTimeLayouts are the naive ISO-8601 layouts written by older deployments.
// Timestamps without a zone are read as UTC.
var legacyTimeLayouts = []string{
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// recordJSON is the persisted shape of one key.
// The legacy fields are read but never written.
type recordJSON struct {
	ID              string `json:"id,omitempty"`
	DurationSeconds int64  `json:"duration_seconds"`
	DurationLabel   string `json:"duration_label,omitempty"`
	CreatedAt       string `json:"created_at,omitempty"`
	ExpiresAt       string `json:"expires_at,omitempty"`
	CreatedBy       *int64 `json:"created_by"`
	RedeemedBy      *int64 `json:"redeemed_by"`

	LegacyKey        string `json:"key,omitempty"`
	LegacyLabel      string `json:"duration_str,omitempty"`
	LegacyExpiry     string `json:"expiry_date,omitempty"`
	LegacyCreatedBy  *int64 `json:"user_id_created,omitempty"`
	LegacyRedeemedBy *int64 `json:"user_id_redeemed,omitempty"`
}

// Encode renders records as the snapshot document: an object keyed by key ID.
func Encode(records []domain.KeyRecord) ([]byte, error) {
	doc := make(map[string]recordJSON, len(records))
	for _, r := range records {
		doc[r.ID] = recordJSON{
			ID:              r.ID,
			DurationSeconds: r.DurationSeconds,
			DurationLabel:   duration.Label(r.DurationSeconds),
			CreatedAt:       r.CreatedAt.UTC().Format(time.RFC3339Nano),
			ExpiresAt:       r.ExpiresAt.UTC().Format(time.RFC3339Nano),
			CreatedBy:       r.CreatedBy,
			RedeemedBy:      r.RedeemedBy,
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

// Decode parses a snapshot document, accepting both the current and the legacy field names.
// Records come back sorted by creation time for stable iteration.
func Decode(data []byte) ([]domain.KeyRecord, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var doc map[string]recordJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	records := make([]domain.KeyRecord, 0, len(doc))
	for mapKey, raw := range doc {
		rec := domain.KeyRecord{
			ID:              firstNonEmpty(raw.ID, raw.LegacyKey, mapKey),
			DurationSeconds: raw.DurationSeconds,
			CreatedBy:       raw.CreatedBy,
			RedeemedBy:      raw.RedeemedBy,
		}
		if rec.CreatedBy == nil {
			rec.CreatedBy = raw.LegacyCreatedBy
		}
		if rec.RedeemedBy == nil {
			rec.RedeemedBy = raw.LegacyRedeemedBy
		}
		if rec.DurationSeconds == 0 {
			label := firstNonEmpty(raw.DurationLabel, raw.LegacyLabel)
			if seconds, err := duration.Parse(label); err == nil {
				rec.DurationSeconds = seconds
			}
		}

		expiry, ok := parseTime(firstNonEmpty(raw.ExpiresAt, raw.LegacyExpiry))
		if !ok {
			expiry = unparseableExpiry
		}
		rec.ExpiresAt = expiry

		if created, ok := parseTime(raw.CreatedAt); ok {
			rec.CreatedAt = created
		} else {
			rec.CreatedAt = rec.ExpiresAt.Add(-time.Duration(rec.DurationSeconds) * time.Second)
		}

		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})

	return records, nil
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	for _, layout := range legacyTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// JSONStore adapts a Backend into a SnapshotStore using the JSON snapshot codec.
type JSONStore struct {
	backend Backend
}

// NewJSONStore creates a SnapshotStore over backend.
func NewJSONStore(backend Backend) *JSONStore {
	return &JSONStore{backend: backend}
}

// Load reads and decodes the snapshot. A missing snapshot yields no records.
func (s *JSONStore) Load(ctx context.Context) ([]domain.KeyRecord, error) {
	data, err := s.backend.Read(ctx)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrPersistenceFailure, s.backend.Name(), err)
	}

	records, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrPersistenceFailure, s.backend.Name(), err)
	}
	return records, nil
}

// Save encodes and writes the full snapshot.
func (s *JSONStore) Save(ctx context.Context, records []domain.KeyRecord) error {
	data, err := Encode(records)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}
	if err := s.backend.Write(ctx, data); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrPersistenceFailure, s.backend.Name(), err)
	}
	return nil
}

// Backend returns the underlying backend.
func (s *JSONStore) Backend() Backend {
	return s.backend
}

var _ SnapshotStore = (*JSONStore)(nil)
