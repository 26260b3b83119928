package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prn-tf/premium-keys/internal/auth"
	"github.com/prn-tf/premium-keys/internal/domain"
	"github.com/prn-tf/premium-keys/internal/pkg/duration"
	"github.com/prn-tf/premium-keys/internal/service"
)

// maxBodyBytes caps admin request bodies.
const maxBodyBytes = 1 << 20

// envelope is the response body. Every response carries "success".
type envelope map[string]any

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeSuccess(w http.ResponseWriter, status int, body envelope) {
	if body == nil {
		body = envelope{}
	}
	body["success"] = true
	writeJSON(w, status, body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{"success": false, "error": message})
}

// errorStatus maps a service or domain error to its HTTP status and public message.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidFormat), errors.Is(err, domain.ErrNonPositive):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrKeyNotFound):
		return http.StatusNotFound, "Key not found"
	case errors.Is(err, domain.ErrAlreadyRedeemed),
		errors.Is(err, service.ErrKeyBusy),
		errors.Is(err, service.ErrReconcileInProgress):
		return http.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrExpired):
		return http.StatusGone, err.Error()
	case errors.Is(err, service.ErrSyncDisabled):
		return http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, auth.ErrAccessDenied):
		return http.StatusForbidden, err.Error()
	default:
		return http.StatusInternalServerError, service.ErrInternalError.Error()
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// keyView is the API representation of a key at a given instant.
type keyView struct {
	Key             string          `json:"key"`
	DurationSeconds int64           `json:"duration_seconds"`
	Duration        string          `json:"duration"`
	DurationLabel   string          `json:"duration_label"`
	CreatedAt       time.Time       `json:"created_at"`
	ExpiresAt       time.Time       `json:"expires_at"`
	CreatedBy       *int64          `json:"created_by"`
	RedeemedBy      *int64          `json:"redeemed_by"`
	IsRedeemed      bool            `json:"is_redeemed"`
	IsExpired       bool            `json:"is_expired"`
	State           domain.KeyState `json:"state"`
	Remaining       int64           `json:"remaining_seconds"`
	ExpiresIn       string          `json:"expires_in"`
}

func newKeyView(rec *domain.KeyRecord, now time.Time) keyView {
	return keyView{
		Key:             rec.ID,
		DurationSeconds: rec.DurationSeconds,
		Duration:        duration.Format(rec.DurationSeconds),
		DurationLabel:   duration.Label(rec.DurationSeconds),
		CreatedAt:       rec.CreatedAt,
		ExpiresAt:       rec.ExpiresAt,
		CreatedBy:       rec.CreatedBy,
		RedeemedBy:      rec.RedeemedBy,
		IsRedeemed:      rec.IsRedeemed(),
		IsExpired:       rec.IsExpired(now),
		State:           rec.State(now),
		Remaining:       int64(rec.Remaining(now) / time.Second),
		ExpiresIn:       duration.Until(now, rec.ExpiresAt),
	}
}

func newKeyViews(records []domain.KeyRecord, now time.Time) []keyView {
	views := make([]keyView, 0, len(records))
	for i := range records {
		views = append(views, newKeyView(&records[i], now))
	}
	return views
}
