package handler

import (
	"net/http"

	"github.com/attaboy/identity/internal/domain"
	"github.com/attaboy/identity/internal/service"
)

// RoleHandler exposes role inference.
type RoleHandler struct {
	gw *service.Gateway
}

// NewRoleHandler creates a new RoleHandler.
func NewRoleHandler(gw *service.Gateway) *RoleHandler {
	return &RoleHandler{gw: gw}
}

// Infer handles POST /roles/infer.
func (h *RoleHandler) Infer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := DecodeJSON(r, &body); err != nil {
		respondBadBody(w)
		return
	}

	result, err := h.gw.InferRole(r.Context(), body.Email)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, result)
}

// Rules handles GET /roles/rules.
func (h *RoleHandler) Rules(w http.ResponseWriter, _ *http.Request) {
	rules := h.gw.Rules()
	out := make([]domain.MatchedRule, 0, len(rules))
	for _, rule := range rules {
		out = append(out, domain.MatchedRule{
			Pattern:          rule.Pattern,
			Role:             rule.Role,
			Priority:         rule.Priority,
			Description:      rule.Description,
			RequiresApproval: rule.RequiresApproval,
		})
	}
	RespondJSON(w, http.StatusOK, map[string]any{"rules": out})
}
