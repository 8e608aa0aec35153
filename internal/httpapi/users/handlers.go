// Package users exposes administrative user management.
//
// Purpose:
//
//	Besides user creation, this package hosts the manual revocation
//	surfaces: kicking a principal deletes their session record, and
//	disabling an account or replacing its roles does the same so stale
//	permissions never outlive the change. Revocation is a Redis delete,
//	so it takes effect on every node on the very next request.
package users

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/audit"
	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/httpapi/middleware"
	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/metrics"
	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/security"
	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/session"
	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/storage/postgres"
)

// Handler serves user administration endpoints.
type Handler struct {
	store    *postgres.Store
	sessions *session.Store
	audit    audit.Emitter
	logger   zerolog.Logger
}

// NewHandler wires the user administration endpoints.
func NewHandler(store *postgres.Store, sessions *session.Store, emitter audit.Emitter, logger zerolog.Logger) *Handler {
	return &Handler{store: store, sessions: sessions, audit: emitter, logger: logger}
}

// Register mounts the endpoints behind the gatekeeper middleware.
func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/system/users", h.create)
	r.Post("/v1/system/users/{userID}/kick", h.kick)
	r.Put("/v1/system/users/{userID}/status", h.updateStatus)
	r.Put("/v1/system/users/{userID}/roles", h.replaceRoles)
}

type createRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Nickname string `json:"nickname"`
}

type userResponse struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	Nickname string    `json:"nickname"`
	Status   int       `json:"status"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "username and a password of at least 8 characters are required")
		return
	}
	hash, err := security.HashPassword(req.Password)
	if err != nil {
		h.logger.Error().Err(err).Msg("password hashing failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	user, err := h.store.CreateUser(r.Context(), postgres.CreateUserParams{
		ID:           uuid.New(),
		Username:     req.Username,
		PasswordHash: hash,
		Nickname:     req.Nickname,
		Status:       1,
	})
	if errors.Is(err, postgres.ErrDuplicate) {
		writeError(w, http.StatusConflict, "username already taken")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("user create failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, userResponse{
		ID:       user.ID,
		Username: user.Username,
		Nickname: user.Nickname,
		Status:   user.Status,
	})
}

func (h *Handler) kick(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.sessions.Delete(r.Context(), userID); err != nil {
		h.logger.Error().Err(err).Msg("session delete failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	metrics.RecordSessionRevoked("kick")
	h.emit(r.Context(), r, "auth.kick", userID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "session revoked"})
}

type statusRequest struct {
	Status int `json:"status"`
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseID(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Status != 0 && req.Status != 1 {
		writeError(w, http.StatusBadRequest, "status must be 0 or 1")
		return
	}
	err := h.store.UpdateUserStatus(r.Context(), userID, req.Status)
	if errors.Is(err, postgres.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("status update failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if req.Status == 0 {
		// Disabling revokes the live session so the change is immediate.
		h.revoke(r.Context(), userID, "disabled")
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

type rolesRequest struct {
	RoleIDs []uuid.UUID `json:"role_ids"`
}

func (h *Handler) replaceRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseID(w, r)
	if !ok {
		return
	}
	var req rolesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.store.ReplaceUserRoles(r.Context(), userID, req.RoleIDs); err != nil {
		h.logger.Error().Err(err).Msg("role replacement failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	// The session record carries permissions captured at login, so a role
	// change must end the session to take effect.
	h.revoke(r.Context(), userID, "roles_changed")
	writeJSON(w, http.StatusOK, map[string]string{"status": "roles updated"})
}

func (h *Handler) revoke(ctx context.Context, userID uuid.UUID, cause string) {
	if err := h.sessions.Delete(ctx, userID); err != nil {
		h.logger.Warn().Err(err).Str("cause", cause).Msg("session revoke failed")
		return
	}
	metrics.RecordSessionRevoked(cause)
}

func (h *Handler) emit(ctx context.Context, r *http.Request, action string, targetID uuid.UUID) {
	identity := middleware.FromContext(r.Context())
	event := audit.NewEvent(action, "success")
	event.ActorID = identity.UserID
	event.ActorName = identity.Username
	event.TargetID = &targetID
	if err := h.audit.Emit(ctx, event); err != nil {
		h.logger.Warn().Err(err).Msg("audit emit failed")
	}
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
