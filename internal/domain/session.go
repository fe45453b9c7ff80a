package domain

import (
	"time"

	"github.com/google/uuid"
)

// SessionTTL is the lifetime of an authenticated session.
const SessionTTL = 24 * time.Hour

// Session is an authenticated session carrying the risk verdict that admitted it.
type Session struct {
	ID                uuid.UUID `json:"id"`
	UserID            uuid.UUID `json:"user_id"`
	SessionToken      string    `json:"session_token"`
	DeviceFingerprint string    `json:"device_fingerprint,omitempty"`
	IPAddress         string    `json:"ip_address,omitempty"`
	UserAgent         string    `json:"user_agent,omitempty"`
	RiskLevel         RiskLevel `json:"risk_level"`
	IsTrustedDevice   bool      `json:"is_trusted_device"`
	SecurityFlags     []string  `json:"security_flags"`
	ExpiresAt         time.Time `json:"expires_at"`
	CreatedAt         time.Time `json:"created_at"`
}

// DeviceInfo describes the client a session is issued to.
type DeviceInfo struct {
	Fingerprint string `json:"device_fingerprint"`
	IPAddress   string `json:"ip_address"`
	UserAgent   string `json:"user_agent,omitempty"`
}
