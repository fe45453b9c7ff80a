package handler

import (
	"net/http"

	"github.com/attaboy/identity/internal/domain"
	"github.com/attaboy/identity/internal/service"
)

// SessionTokenHeader carries the opaque session token.
const SessionTokenHeader = "X-Session-Token"

// AuthHandler handles login, activation and session lookup.
type AuthHandler struct {
	gw *service.Gateway
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(gw *service.Gateway) *AuthHandler {
	return &AuthHandler{gw: gw}
}

type loginBody struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	DeviceFingerprint string `json:"device_fingerprint"`
}

type activateBody struct {
	Email             string `json:"email"`
	TemporaryPassword string `json:"temporary_password"`
	NewPassword       string `json:"new_password"`
	DeviceFingerprint string `json:"device_fingerprint"`
}

func deviceInfo(r *http.Request, fingerprint string) domain.DeviceInfo {
	if fingerprint == "" {
		fingerprint = r.Header.Get("X-Device-Fingerprint")
	}
	return domain.DeviceInfo{
		Fingerprint: fingerprint,
		IPAddress:   ClientIP(r),
		UserAgent:   r.UserAgent(),
	}
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginBody
	if err := DecodeJSON(r, &body); err != nil {
		respondBadBody(w)
		return
	}

	result, err := h.gw.Login(r.Context(), service.LoginRequest{
		Email:    body.Email,
		Password: body.Password,
		Device:   deviceInfo(r, body.DeviceFingerprint),
	})
	if err != nil {
		RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, result)
}

// Activate handles POST /auth/activate.
func (h *AuthHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var body activateBody
	if err := DecodeJSON(r, &body); err != nil {
		respondBadBody(w)
		return
	}

	result, err := h.gw.Activate(r.Context(), service.ActivationRequest{
		Email:             body.Email,
		TemporaryPassword: body.TemporaryPassword,
		NewPassword:       body.NewPassword,
		Device:            deviceInfo(r, body.DeviceFingerprint),
	})
	if err != nil {
		RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, result)
}

// Session handles GET /auth/session.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	session, err := h.gw.Session(r.Context(), r.Header.Get(SessionTokenHeader))
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, session)
}
