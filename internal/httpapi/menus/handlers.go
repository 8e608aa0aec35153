// Package menus exposes the rule-bearing resource CRUD.
//
// Purpose:
//
//	Menus are the authoritative source of authorization rules: a menu row
//	with a non-empty api_path and perms contributes one rule. Every
//	successful mutation therefore ends with a cluster-wide rule change
//	notification so each node evicts the shared cache and reloads.
//
// Debugging Notes:
//   - The notification runs after the transaction commits. If it fails the
//     mutation still succeeded; the hourly backstop refresh converges the
//     cluster, so the handler logs the failure and returns 200.
package menus

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/audit"
	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/authz"
	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/httpapi/middleware"
	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/storage/postgres"
)

// Handler serves menu (rule) management endpoints.
type Handler struct {
	store      *postgres.Store
	gatekeeper *authz.Gatekeeper
	audit      audit.Emitter
	logger     zerolog.Logger
}

// NewHandler wires the menu management endpoints.
func NewHandler(store *postgres.Store, gk *authz.Gatekeeper, emitter audit.Emitter, logger zerolog.Logger) *Handler {
	return &Handler{store: store, gatekeeper: gk, audit: emitter, logger: logger}
}

// Register mounts the endpoints. The caller wraps them in the gatekeeper
// middleware; access is governed by the rule table itself.
func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/system/menus", h.list)
	r.Get("/v1/system/menus/{menuID}", h.get)
	r.Post("/v1/system/menus", h.create)
	r.Put("/v1/system/menus/{menuID}", h.update)
	r.Delete("/v1/system/menus/{menuID}", h.remove)
}

type menuPayload struct {
	MenuName      string     `json:"menu_name"`
	ParentID      *uuid.UUID `json:"parent_id,omitempty"`
	APIPath       string     `json:"api_path"`
	RequestMethod string     `json:"request_method"`
	Perms         string     `json:"perms"`
	SortOrder     int        `json:"sort_order"`
}

type menuResponse struct {
	ID uuid.UUID `json:"id"`
	menuPayload
}

func toResponse(m postgres.Menu) menuResponse {
	return menuResponse{
		ID: m.ID,
		menuPayload: menuPayload{
			MenuName:      m.MenuName,
			ParentID:      m.ParentID,
			APIPath:       m.APIPath,
			RequestMethod: m.RequestMethod,
			Perms:         m.Perms,
			SortOrder:     m.SortOrder,
		},
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.ListMenus(r.Context(), r.URL.Query().Get("name"))
	if err != nil {
		h.logger.Error().Err(err).Msg("menu list failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]menuResponse, 0, len(items))
	for _, m := range items {
		out = append(out, toResponse(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	menuID, ok := parseID(w, r)
	if !ok {
		return
	}
	m, err := h.store.GetMenu(r.Context(), menuID)
	if err == postgres.ErrNotFound {
		writeError(w, http.StatusNotFound, "menu not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("menu get failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toResponse(m))
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req menuPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.MenuName == "" {
		writeError(w, http.StatusBadRequest, "menu_name is required")
		return
	}
	m, err := h.store.CreateMenu(r.Context(), postgres.CreateMenuParams{
		MenuName:      req.MenuName,
		ParentID:      req.ParentID,
		APIPath:       req.APIPath,
		RequestMethod: req.RequestMethod,
		Perms:         req.Perms,
		SortOrder:     req.SortOrder,
	})
	if err == postgres.ErrDuplicate {
		writeError(w, http.StatusConflict, "menu already exists")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("menu create failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.afterRuleChange(r, "rule.create", m.ID)
	writeJSON(w, http.StatusCreated, toResponse(m))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	menuID, ok := parseID(w, r)
	if !ok {
		return
	}
	var req menuPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	m, err := h.store.UpdateMenu(r.Context(), postgres.UpdateMenuParams{
		ID:            menuID,
		MenuName:      req.MenuName,
		ParentID:      req.ParentID,
		APIPath:       req.APIPath,
		RequestMethod: req.RequestMethod,
		Perms:         req.Perms,
		SortOrder:     req.SortOrder,
	})
	if err == postgres.ErrNotFound {
		writeError(w, http.StatusNotFound, "menu not found")
		return
	}
	if err == postgres.ErrDuplicate {
		writeError(w, http.StatusConflict, "menu already exists")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("menu update failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.afterRuleChange(r, "rule.update", m.ID)
	writeJSON(w, http.StatusOK, toResponse(m))
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	menuID, ok := parseID(w, r)
	if !ok {
		return
	}
	err := h.store.DeleteMenu(r.Context(), menuID)
	switch {
	case err == postgres.ErrNotFound:
		writeError(w, http.StatusNotFound, "menu not found")
		return
	case err == postgres.ErrHasChildren:
		writeError(w, http.StatusConflict, "menu has child menus")
		return
	case err != nil:
		h.logger.Error().Err(err).Msg("menu delete failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.afterRuleChange(r, "rule.delete", menuID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// afterRuleChange broadcasts the rule change and records the audit event.
// Both failures are logged, not surfaced: the database mutation already
// committed and the backstop refresh covers a lost broadcast.
func (h *Handler) afterRuleChange(r *http.Request, action string, menuID uuid.UUID) {
	ctx := r.Context()
	if err := h.gatekeeper.OnRuleChanged(ctx, action); err != nil {
		h.logger.Warn().Err(err).Str("action", action).Msg("rule change broadcast failed")
	}
	identity := middleware.FromContext(ctx)
	event := audit.NewEvent(action, "success")
	event.ActorID = identity.UserID
	event.ActorName = identity.Username
	event.TargetID = &menuID
	if err := h.audit.Emit(ctx, event); err != nil {
		h.logger.Warn().Err(err).Msg("audit emit failed")
	}
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "menuID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid menu id")
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
