package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/prn-tf/premium-keys/internal/service"
)

// AdminHandler serves the authenticated command API.
type AdminHandler struct {
	keys       *service.KeyService
	sync       *service.SyncService
	reconciler *service.Reconciler
	logger     zerolog.Logger
}

// NewAdminHandler creates a new AdminHandler. syncSvc and reconciler may be nil.
func NewAdminHandler(keys *service.KeyService, syncSvc *service.SyncService, reconciler *service.Reconciler, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		keys:       keys,
		sync:       syncSvc,
		reconciler: reconciler,
		logger:     logger.With().Str("handler", "admin").Logger(),
	}
}

// RegisterRoutes registers the admin routes. Callers wrap r with authentication.
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/admin/keys", h.handleGenerate)
	r.Get("/api/admin/keys/active", h.handleListActive)
	r.Get("/api/admin/keys/{key}", h.handleGet)
	r.Patch("/api/admin/keys/{key}", h.handleModify)
	r.Delete("/api/admin/keys/{key}", h.handleDelete)
	r.Post("/api/admin/keys/{key}/redeem", h.handleRedeem)
	r.Get("/api/admin/users/{userID}/keys", h.handleUserKeys)
	r.Get("/api/admin/stats", h.handleStats)
	r.Post("/api/admin/reconcile", h.handleReconcile)
	r.Post("/api/admin/sync", h.handleSync)
}

type generateRequest struct {
	Duration  string `json:"duration"`
	CreatorID *int64 `json:"creator_id"`
}

type modifyRequest struct {
	Duration string `json:"duration"`
}

type redeemRequest struct {
	RedeemerID int64 `json:"redeemer_id"`
	GuildID    int64 `json:"guild_id"`
}

func (h *AdminHandler) fail(w http.ResponseWriter, err error, msg string) {
	status, message := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Msg(msg)
	}
	writeError(w, status, message)
}

func (h *AdminHandler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := h.keys.Generate(r.Context(), service.GenerateInput{
		Duration:  req.Duration,
		CreatorID: req.CreatorID,
	})
	if err != nil {
		h.fail(w, err, "Failed to generate key")
		return
	}

	writeSuccess(w, http.StatusCreated, envelope{"key": newKeyView(&rec, h.keys.Now())})
}

func (h *AdminHandler) handleListActive(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, envelope{"keys": newKeyViews(h.keys.ListActive(), h.keys.Now())})
}

func (h *AdminHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.keys.GetKey(chi.URLParam(r, "key"))
	if err != nil {
		h.fail(w, err, "Failed to get key")
		return
	}
	writeSuccess(w, http.StatusOK, envelope{"key": newKeyView(&rec, h.keys.Now())})
}

func (h *AdminHandler) handleModify(w http.ResponseWriter, r *http.Request) {
	var req modifyRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := h.keys.ModifyDuration(r.Context(), chi.URLParam(r, "key"), req.Duration)
	if err != nil {
		h.fail(w, err, "Failed to modify key")
		return
	}
	writeSuccess(w, http.StatusOK, envelope{"key": newKeyView(&rec, h.keys.Now())})
}

func (h *AdminHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	out, err := h.keys.DeleteKey(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.fail(w, err, "Failed to delete key")
		return
	}

	body := envelope{
		"key":          newKeyView(&out.Key, h.keys.Now()),
		"role_revoked": out.RoleRevoked,
	}
	if out.Warning != nil {
		body["warning"] = out.Warning.Error()
	}
	writeSuccess(w, http.StatusOK, body)
}

func (h *AdminHandler) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RedeemerID <= 0 {
		writeError(w, http.StatusBadRequest, "redeemer_id is required")
		return
	}

	out, err := h.keys.Redeem(r.Context(), service.RedeemInput{
		KeyID:      chi.URLParam(r, "key"),
		RedeemerID: req.RedeemerID,
		GuildID:    req.GuildID,
	})
	if err != nil {
		h.fail(w, err, "Failed to redeem key")
		return
	}

	body := envelope{
		"key":          newKeyView(&out.Key, h.keys.Now()),
		"role_granted": out.RoleGranted,
	}
	if out.Warning != nil {
		body["warning"] = out.Warning.Error()
	}
	writeSuccess(w, http.StatusOK, body)
}

func (h *AdminHandler) handleUserKeys(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid user ID")
		return
	}

	user := h.keys.KeysForUser(userID)
	writeSuccess(w, http.StatusOK, envelope{
		"user_id":    user.UserID,
		"has_active": user.HasActive,
		"keys":       newKeyViews(user.Keys, h.keys.Now()),
	})
}

func (h *AdminHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, envelope{"stats": h.keys.Stats()})
}

func (h *AdminHandler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if h.reconciler == nil {
		writeError(w, http.StatusServiceUnavailable, "reconciler is not configured")
		return
	}

	result, err := h.reconciler.RunOnce(r.Context())
	if err != nil {
		h.fail(w, err, "Reconciliation failed")
		return
	}
	writeSuccess(w, http.StatusOK, envelope{"result": result})
}

func (h *AdminHandler) handleSync(w http.ResponseWriter, r *http.Request) {
	if h.sync == nil {
		h.fail(w, service.ErrSyncDisabled, "Sync failed")
		return
	}

	pull, push, err := h.sync.Sync(r.Context())
	if err != nil {
		h.fail(w, err, "Sync failed")
		return
	}
	writeSuccess(w, http.StatusOK, envelope{"pull": pull, "push": push})
}

