package domain

import (
	"time"

	"github.com/google/uuid"
)

// CredentialTTL is the fixed lifetime of a temporary credential.
const CredentialTTL = 24 * time.Hour

// CredentialState is the lifecycle position of a temporary credential:
// issued, then valid once stored, then consumed or expired.
type CredentialState string

const (
	CredentialIssued   CredentialState = "issued"
	CredentialValid    CredentialState = "valid"
	CredentialConsumed CredentialState = "consumed"
	CredentialExpired  CredentialState = "expired"
)

// TemporaryCredential is a single-use, time-limited password used to activate an account.
// Credentials are never deleted, only consumed.
type TemporaryCredential struct {
	ID                uuid.UUID  `json:"id"`
	Email             string     `json:"email"`
	RoleName          Role       `json:"role_name"`
	RoleConfidence    int        `json:"role_confidence"`
	PasswordHash      string     `json:"-"`
	SecurityToken     string     `json:"-"`
	CreatedAt         time.Time  `json:"created_at"`
	ExpiresAt         time.Time  `json:"expires_at"`
	IsUsed            bool       `json:"is_used"`
	UsedAt            *time.Time `json:"used_at,omitempty"`
	MustChangeOnLogin bool       `json:"must_change_on_login"`
	CreatedBy         string     `json:"created_by"`
}

// State returns the credential's lifecycle state at now.
func (c *TemporaryCredential) State(now time.Time) CredentialState {
	switch {
	case c.IsUsed:
		return CredentialConsumed
	case !now.Before(c.ExpiresAt):
		return CredentialExpired
	case c.ID == uuid.Nil:
		return CredentialIssued
	default:
		return CredentialValid
	}
}

// IsValid reports whether the credential may still be honored at now.
func (c *TemporaryCredential) IsValid(now time.Time) bool {
	return c.State(now) == CredentialValid
}

// IssuedCredential is returned once to the issuer. Password is the only plaintext copy.
type IssuedCredential struct {
	Credential TemporaryCredential `json:"credential"`
	Password   string              `json:"temporary_password"`
}

// ActivationResult is the outcome of validating a temporary credential.
type ActivationResult struct {
	Activated              bool      `json:"activated"`
	RequiresPasswordChange bool      `json:"requires_password_change"`
	UserID                 uuid.UUID `json:"user_id,omitempty"`
	Email                  string    `json:"email"`
	Role                   Role      `json:"role,omitempty"`
	CreatedAccount         bool      `json:"created_account,omitempty"`
}
