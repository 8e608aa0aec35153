// Package roles exposes administrative role management.
//
// Purpose:
//
//	Roles bind principals to the menus that carry authorization rules.
//	Changing a role's menu grants reshapes the permission set captured
//	at the next login; it does not touch the rule table itself, so no
//	cluster invalidation is involved. Sessions opened before a grant
//	change keep their old permissions until they are revoked or expire.
package roles

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
	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/storage/postgres"
)

// Handler serves role administration endpoints.
type Handler struct {
	store  *postgres.Store
	audit  audit.Emitter
	logger zerolog.Logger
}

// NewHandler wires the role administration endpoints.
func NewHandler(store *postgres.Store, emitter audit.Emitter, logger zerolog.Logger) *Handler {
	return &Handler{store: store, audit: emitter, logger: logger}
}

// Register mounts the endpoints behind the gatekeeper middleware.
func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/system/roles", h.list)
	r.Post("/v1/system/roles", h.create)
	r.Put("/v1/system/roles/{roleID}/menus", h.replaceMenus)
}

type createRequest struct {
	RoleKey   string `json:"role_key"`
	RoleName  string `json:"role_name"`
	SortOrder int    `json:"sort_order"`
}

type roleResponse struct {
	ID        uuid.UUID `json:"id"`
	RoleKey   string    `json:"role_key"`
	RoleName  string    `json:"role_name"`
	SortOrder int       `json:"sort_order"`
	CreatedAt time.Time `json:"created_at"`
}

func toResponse(r postgres.Role) roleResponse {
	return roleResponse{
		ID:        r.ID,
		RoleKey:   r.RoleKey,
		RoleName:  r.RoleName,
		SortOrder: r.SortOrder,
		CreatedAt: r.CreatedAt,
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	roles, err := h.store.ListRoles(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("role list failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]roleResponse, 0, len(roles))
	for _, role := range roles {
		out = append(out, toResponse(role))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RoleKey == "" {
		writeError(w, http.StatusBadRequest, "role_key is required")
		return
	}
	role, err := h.store.CreateRole(r.Context(), req.RoleKey, req.RoleName, req.SortOrder)
	if errors.Is(err, postgres.ErrDuplicate) {
		writeError(w, http.StatusConflict, "role key already taken")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("role create failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.emit(r.Context(), r, "role.create", role.ID)
	writeJSON(w, http.StatusCreated, toResponse(role))
}

type menusRequest struct {
	MenuIDs []uuid.UUID `json:"menu_ids"`
}

func (h *Handler) replaceMenus(w http.ResponseWriter, r *http.Request) {
	roleID, ok := parseID(w, r)
	if !ok {
		return
	}
	var req menusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.store.ReplaceRoleMenus(r.Context(), roleID, req.MenuIDs); err != nil {
		h.logger.Error().Err(err).Msg("menu grant replacement failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.emit(r.Context(), r, "role.grant", roleID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "grants updated"})
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
	id, err := uuid.Parse(chi.URLParam(r, "roleID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid role id")
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
