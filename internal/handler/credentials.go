package handler

import (
	"log/slog"
	"net/http"

	"github.com/attaboy/identity/internal/auth"
	"github.com/attaboy/identity/internal/domain"
	"github.com/attaboy/identity/internal/guard"
	"github.com/attaboy/identity/internal/service"
)

// IdempotencyHeader deduplicates credential issuance retries.
const IdempotencyHeader = "Idempotency-Key"

// CredentialHandler handles administrative credential issuance.
type CredentialHandler struct {
	gw          *service.Gateway
	idempotency *guard.IdempotencyGuard
	logger      *slog.Logger
}

// NewCredentialHandler creates a new CredentialHandler.
func NewCredentialHandler(gw *service.Gateway, idem *guard.IdempotencyGuard, logger *slog.Logger) *CredentialHandler {
	return &CredentialHandler{gw: gw, idempotency: idem, logger: logger}
}

// Issue handles POST /admin/credentials. The response is the only place the
// temporary password is ever shown.
func (h *CredentialHandler) Issue(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		RespondError(w, domain.ErrUnauthorized("no auth context"))
		return
	}

	var body struct {
		Email string      `json:"email"`
		Role  domain.Role `json:"role"`
	}
	if err := DecodeJSON(r, &body); err != nil {
		respondBadBody(w)
		return
	}

	key := r.Header.Get(IdempotencyHeader)
	if key != "" {
		key = claims.Subject + ":" + key
	}
	if res := h.idempotency.Check(key); !res.Allowed {
		RespondError(w, domain.ErrConflict(res.Reason))
		return
	}

	issuer := claims.Email
	if issuer == "" {
		issuer = claims.Subject
	}

	result, err := h.gw.Onboard(r.Context(), service.OnboardRequest{
		Email:      body.Email,
		Role:       body.Role,
		Issuer:     issuer,
		IssuerRole: claims.Role,
	})
	if err != nil {
		// A failed attempt may be retried with the same key.
		h.idempotency.Remove(key)
		RespondError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "temporary credential issued",
		"email", result.Credential.Credential.Email,
		"role", result.Role,
		"issued_by", issuer,
		"request_id", GetRequestID(r.Context()),
	)
	RespondJSON(w, http.StatusCreated, result)
}

// History handles GET /admin/credentials?email=.
func (h *CredentialHandler) History(w http.ResponseWriter, r *http.Request) {
	creds, err := h.gw.CredentialHistory(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"credentials": creds})
}
