// Package domain contains the core business entities for the premium key manager.
package domain

import (
	"time"
)

// KeyState is the derived lifecycle state of a key at a given instant.
type KeyState string

const (
	// KeyStateUnredeemedActive is a fresh key that can still be redeemed.
	KeyStateUnredeemedActive KeyState = "unredeemed_active"

	// KeyStateUnredeemedExpired is a key that expired without being redeemed.
	KeyStateUnredeemedExpired KeyState = "unredeemed_expired"

	// KeyStateRedeemedActive is a redeemed key that still grants access.
	KeyStateRedeemedActive KeyState = "redeemed_active"

	// KeyStateRedeemedExpired is a redeemed key whose access must be revoked.
	KeyStateRedeemedExpired KeyState = "redeemed_expired"
)

// KeyRecord is a single premium key.
// ExpiresAt is computed from CreatedAt (or the last duration change) plus DurationSeconds.
type KeyRecord struct {
	// ID is the opaque identifier handed to users.
	ID string `json:"id"`

	// DurationSeconds is the granted duration.
	DurationSeconds int64 `json:"duration_seconds"`

	// CreatedAt is when the key was generated.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is the instant at which the key stops granting access.
	ExpiresAt time.Time `json:"expires_at"`

	// CreatedBy is the platform user that generated the key, if known.
	CreatedBy *int64 `json:"created_by,omitempty"`

	// RedeemedBy is the platform user that redeemed the key. Set at most once.
	RedeemedBy *int64 `json:"redeemed_by,omitempty"`
}

// IsRedeemed reports whether the key has been redeemed.
func (k *KeyRecord) IsRedeemed() bool {
	return k.RedeemedBy != nil
}

// IsActive reports whether the key is unexpired at now.
func (k *KeyRecord) IsActive(now time.Time) bool {
	return k.ExpiresAt.After(now)
}

// IsExpired reports whether the key is expired at now.
func (k *KeyRecord) IsExpired(now time.Time) bool {
	return !k.IsActive(now)
}

// IsReconcilableExpired reports whether the key is expired and was redeemed,
// i.e. its holder may still carry the premium role.
func (k *KeyRecord) IsReconcilableExpired(now time.Time) bool {
	return k.IsRedeemed() && k.IsExpired(now)
}

// RedeemedByUser reports whether the key was redeemed by userID.
func (k *KeyRecord) RedeemedByUser(userID int64) bool {
	return k.RedeemedBy != nil && *k.RedeemedBy == userID
}

// State returns the derived lifecycle state at now.
func (k *KeyRecord) State(now time.Time) KeyState {
	switch {
	case k.IsRedeemed() && k.IsActive(now):
		return KeyStateRedeemedActive
	case k.IsRedeemed():
		return KeyStateRedeemedExpired
	case k.IsActive(now):
		return KeyStateUnredeemedActive
	default:
		return KeyStateUnredeemedExpired
	}
}

// Remaining returns the time left until expiry, or zero if expired.
func (k *KeyRecord) Remaining(now time.Time) time.Duration {
	if !k.IsActive(now) {
		return 0
	}
	return k.ExpiresAt.Sub(now)
}

// Clone returns a deep copy of the record.
func (k KeyRecord) Clone() KeyRecord {
	out := k
	if k.CreatedBy != nil {
		v := *k.CreatedBy
		out.CreatedBy = &v
	}
	if k.RedeemedBy != nil {
		v := *k.RedeemedBy
		out.RedeemedBy = &v
	}
	return out
}

// MaskedID returns a shortened form of the ID suitable for logs and audit messages.
func (k *KeyRecord) MaskedID() string {
	return MaskKeyID(k.ID)
}

// MaskKeyID shortens id to its first and last 8 characters.
func MaskKeyID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}

// KeyStats is an aggregate view over all keys.
// Expired counts keys with ExpiresAt <= now, redeemed or not.
type KeyStats struct {
	Total    int `json:"total_keys"`
	Active   int `json:"active_keys"`
	Redeemed int `json:"redeemed_keys"`
	Expired  int `json:"expired_keys"`
}

// ComputeStats aggregates records at now.
func ComputeStats(records []KeyRecord, now time.Time) KeyStats {
	stats := KeyStats{Total: len(records)}
	for i := range records {
		if records[i].IsActive(now) {
			stats.Active++
		} else {
			stats.Expired++
		}
		if records[i].IsRedeemed() {
			stats.Redeemed++
		}
	}
	return stats
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 {
	return &v
}
