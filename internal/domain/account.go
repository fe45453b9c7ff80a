package domain

import (
	"time"

	"github.com/google/uuid"
)

// Account is a directory account that a temporary credential activates.
type Account struct {
	ID                 uuid.UUID `json:"id"`
	Email              string    `json:"email"`
	PasswordHash       string    `json:"-"`
	Role               Role      `json:"role"`
	RoleConfidence     int       `json:"role_confidence"`
	MustChangePassword bool      `json:"must_change_password"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// LoginAttempt is one recorded authentication attempt.
type LoginAttempt struct {
	Email             string    `json:"email"`
	IPAddress         string    `json:"ip_address,omitempty"`
	DeviceFingerprint string    `json:"device_fingerprint,omitempty"`
	Success           bool      `json:"success"`
	Reason            string    `json:"reason,omitempty"`
	AttemptedAt       time.Time `json:"attempted_at"`
}

// Login attempt failure reasons.
const (
	AttemptReasonInvalidPassword   = "invalid_password"
	AttemptReasonInvalidCredential = "invalid_temporary_credential"
	AttemptReasonUnknownAccount    = "unknown_account"
)
