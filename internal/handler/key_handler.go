package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/prn-tf/premium-keys/internal/domain"
	"github.com/prn-tf/premium-keys/internal/service"
)

// KeyHandler serves the read-only key API used by the dashboard.
// Reads come from the secondary store after a best-effort push, or from the
// authoritative store when no secondary store is configured.
type KeyHandler struct {
	keys   *service.KeyService
	sync   *service.SyncService
	logger zerolog.Logger
}

// NewKeyHandler creates a new KeyHandler. syncSvc may be nil.
func NewKeyHandler(keys *service.KeyService, syncSvc *service.SyncService, logger zerolog.Logger) *KeyHandler {
	return &KeyHandler{
		keys:   keys,
		sync:   syncSvc,
		logger: logger.With().Str("handler", "keys").Logger(),
	}
}

// RegisterRoutes registers the read routes.
func (h *KeyHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/keys", h.handleList)
	r.Get("/api/keys/{key}", h.handleGet)
	r.Get("/api/stats", h.handleStats)
}

// refresh pushes local changes so the secondary store reflects them.
// It reports whether reads should use the secondary store.
func (h *KeyHandler) refresh(r *http.Request) bool {
	if h.sync == nil {
		return false
	}
	if _, err := h.sync.Push(r.Context()); err != nil {
		if errors.Is(err, service.ErrSyncDisabled) {
			return false
		}
		h.logger.Warn().Err(err).Msg("Push before read failed, serving secondary store as is")
	}
	return true
}

func (h *KeyHandler) handleList(w http.ResponseWriter, r *http.Request) {
	now := h.keys.Now()

	if !h.refresh(r) {
		writeSuccess(w, http.StatusOK, envelope{"keys": newKeyViews(h.keys.ListAll(), now)})
		return
	}

	rows, err := h.sync.ListSecondary(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list keys")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	views := make([]keyView, 0, len(rows))
	for _, row := range rows {
		views = append(views, newKeyView(row, now))
	}
	writeSuccess(w, http.StatusOK, envelope{"keys": views})
}

func (h *KeyHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "key")
	now := h.keys.Now()

	var rec *domain.KeyRecord
	if h.refresh(r) {
		row, err := h.sync.GetSecondary(r.Context(), keyID)
		if err != nil && !errors.Is(err, domain.ErrKeyNotFound) {
			h.logger.Error().Err(err).Str("key", domain.MaskKeyID(keyID)).Msg("Failed to get key")
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		rec = row
	} else if found, err := h.keys.GetKey(keyID); err == nil {
		rec = &found
	}

	if rec == nil {
		writeError(w, http.StatusNotFound, "Key not found")
		return
	}
	writeSuccess(w, http.StatusOK, envelope{"key": newKeyView(rec, now)})
}

func (h *KeyHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	if !h.refresh(r) {
		writeSuccess(w, http.StatusOK, envelope{"stats": h.keys.Stats()})
		return
	}

	stats, err := h.sync.Stats(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to compute stats")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeSuccess(w, http.StatusOK, envelope{"stats": stats})
}
