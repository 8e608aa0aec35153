// Package auth exposes the login, logout and profile endpoints.
//
// Purpose:
//
//	Login is the only place a session record is created. It verifies the
//	password, loads the principal's permission and role sets from Postgres,
//	mints a fresh fingerprint, writes the session record (overwriting any
//	previous login for the same principal) and signs a token carrying that
//	fingerprint. Logout deletes the record, which revokes the token on
//	every node immediately.
//
// Key Responsibilities:
//   - Uniform "invalid username or password" for unknown principals and
//     wrong passwords so responses never reveal which one it was
//   - Failed-attempt tracking with temporary lockout
//   - Audit events for every login and logout
//
// Error Handling:
//   - Infrastructure failures (Postgres, Redis) return 500; credential
//     failures return 401; disabled accounts return 403
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/audit"
	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/httpapi/middleware"
	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/metrics"
	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/security"
	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/session"
	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/storage/postgres"
	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/token"
)

const msgInvalidCredentials = "invalid username or password"

// Handler serves the authentication endpoints.
type Handler struct {
	store    *postgres.Store
	sessions *session.Store
	issuer   *token.Issuer
	lockout  *security.LockoutTracker
	audit    audit.Emitter
	logger   zerolog.Logger
}

// NewHandler wires the authentication endpoints.
func NewHandler(store *postgres.Store, sessions *session.Store, issuer *token.Issuer, lockout *security.LockoutTracker, emitter audit.Emitter, logger zerolog.Logger) *Handler {
	return &Handler{
		store:    store,
		sessions: sessions,
		issuer:   issuer,
		lockout:  lockout,
		audit:    emitter,
		logger:   logger,
	}
}

// RegisterPublic mounts the endpoints that must be reachable without a
// session (login).
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Post("/v1/auth/login", h.login)
}

// RegisterProtected mounts the endpoints that run behind the gatekeeper
// middleware pair.
func (h *Handler) RegisterProtected(r chi.Router) {
	r.Post("/v1/auth/logout", h.logout)
	r.Get("/v1/auth/profile", h.profile)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
	Username  string    `json:"username"`
	Nickname  string    `json:"nickname"`
	RoleKeys  []string  `json:"role_keys"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	ctx := r.Context()

	locked, err := h.lockout.IsLockedOut(ctx, req.Username)
	if err != nil {
		h.logger.Error().Err(err).Msg("lockout check failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if locked {
		h.emitLogin(ctx, uuid.Nil, req.Username, "failure", map[string]any{"reason": "locked_out"})
		writeError(w, http.StatusTooManyRequests, "too many failed attempts, try again later")
		return
	}

	user, err := h.store.GetUserByUsername(ctx, req.Username)
	if errors.Is(err, postgres.ErrNotFound) {
		// Same response and same failure counter as a wrong password.
		h.recordFailure(ctx, req.Username)
		writeError(w, http.StatusUnauthorized, msgInvalidCredentials)
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("user lookup failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	ok, err := security.VerifyPassword(req.Password, user.PasswordHash)
	if err != nil || !ok {
		h.recordFailure(ctx, req.Username)
		h.emitLogin(ctx, user.ID, user.Username, "failure", map[string]any{"reason": "bad_password"})
		writeError(w, http.StatusUnauthorized, msgInvalidCredentials)
		return
	}

	if user.Status != 1 {
		h.emitLogin(ctx, user.ID, user.Username, "failure", map[string]any{"reason": "disabled"})
		writeError(w, http.StatusForbidden, "account is disabled")
		return
	}

	perms, err := h.store.GetPermissionsByUserID(ctx, user.ID)
	if err != nil {
		h.logger.Error().Err(err).Msg("permission load failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	roleKeys, err := h.store.GetRoleKeysByUserID(ctx, user.ID)
	if err != nil {
		h.logger.Error().Err(err).Msg("role load failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// A fresh fingerprint per login. Writing the record overwrites any
	// previous session, which immediately invalidates the old device's token.
	fingerprint := uuid.NewString()
	rec := session.Record{
		UserID:      user.ID,
		Username:    user.Username,
		Fingerprint: fingerprint,
		Permissions: perms,
		RoleKeys:    roleKeys,
		Status:      user.Status,
		IssuedAt:    time.Now().UTC(),
	}
	if err := h.sessions.Put(ctx, rec, h.issuer.TTL()); err != nil {
		h.logger.Error().Err(err).Msg("session write failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	signed, err := h.issuer.Sign(user.ID, user.Username, fingerprint)
	if err != nil {
		h.logger.Error().Err(err).Msg("token signing failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := h.lockout.ClearAttempts(ctx, req.Username); err != nil {
		h.logger.Warn().Err(err).Msg("lockout reset failed")
	}
	metrics.RecordSessionCreated()
	h.emitLogin(ctx, user.ID, user.Username, "success", nil)
	h.logger.Info().Str("user", user.Username).Msg("login succeeded")

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     signed,
		TokenType: "Bearer",
		ExpiresAt: time.Now().Add(h.issuer.TTL()).UTC(),
		Username:  user.Username,
		Nickname:  user.Nickname,
		RoleKeys:  roleKeys,
	})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	identity := middleware.FromContext(r.Context())
	if !identity.Authenticated() {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := h.sessions.Delete(r.Context(), identity.UserID); err != nil {
		h.logger.Error().Err(err).Msg("session delete failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	metrics.RecordSessionRevoked("logout")

	event := audit.NewEvent("auth.logout", "success")
	event.ActorID = identity.UserID
	event.ActorName = identity.Username
	if err := h.audit.Emit(r.Context(), event); err != nil {
		h.logger.Warn().Err(err).Msg("audit emit failed")
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

type profileResponse struct {
	UserID      uuid.UUID `json:"user_id"`
	Username    string    `json:"username"`
	RoleKeys    []string  `json:"role_keys"`
	Permissions []string  `json:"permissions"`
}

func (h *Handler) profile(w http.ResponseWriter, r *http.Request) {
	identity := middleware.FromContext(r.Context())
	if !identity.Authenticated() {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	perms := make([]string, 0, len(identity.Permissions))
	for p := range identity.Permissions {
		perms = append(perms, p)
	}
	writeJSON(w, http.StatusOK, profileResponse{
		UserID:      identity.UserID,
		Username:    identity.Username,
		RoleKeys:    identity.RoleKeys,
		Permissions: perms,
	})
}

func (h *Handler) recordFailure(ctx context.Context, username string) {
	count, locked, err := h.lockout.TrackFailedAttempt(ctx, username)
	if err != nil {
		h.logger.Warn().Err(err).Msg("lockout tracking failed")
		return
	}
	if locked {
		h.logger.Warn().Str("username", username).Int("attempts", count).Msg("account locked out")
	}
}

func (h *Handler) emitLogin(ctx context.Context, actorID uuid.UUID, actorName, outcome string, metadata map[string]any) {
	event := audit.NewEvent("auth.login", outcome)
	event.ActorID = actorID
	event.ActorName = actorName
	event.Metadata = metadata
	if err := h.audit.Emit(ctx, event); err != nil {
		h.logger.Warn().Err(err).Msg("audit emit failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
