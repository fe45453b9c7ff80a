package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Validator Tests ---

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		name    string
		email   string
		wantErr bool
		errMsg  string
	}{
		{"valid email", "user@example.com", false, ""},
		{"valid email with dots", "first.last@example.co.uk", false, ""},
		{"valid email with plus", "user+tag@example.com", false, ""},
		{"valid email with dash", "user-name@exam-ple.com", false, ""},
		{"empty string", "", true, "email is required"},
		{"no at sign", "userexample.com", true, "invalid email format"},
		{"no domain", "user@", true, "invalid email format"},
		{"no user", "@example.com", true, "invalid email format"},
		{"double at", "user@@example.com", true, "invalid email format"},
		{"no tld", "user@example", true, "invalid email format"},
		{"single char tld", "user@example.c", true, "invalid email format"},
		{"spaces", "user @example.com", true, "invalid email format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEmail(tt.email)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestSplitEmail(t *testing.T) {
	tests := []struct {
		name       string
		email      string
		wantLocal  string
		wantDomain string
		wantErr    bool
	}{
		{"simple", "john.doe@acme.com", "john.doe", "acme.com", false},
		{"subdomain", "ops@eu.acme.com", "ops", "eu.acme.com", false},
		{"no at sign", "nobody", "", "", true},
		{"empty local", "@acme.com", "", "", true},
		{"empty domain", "john@", "", "", true},
		{"two at signs", "a@b@acme.com", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local, dom, err := SplitEmail(tt.email)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsCode(err, CodeInvalidEmailFormat))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLocal, local)
			assert.Equal(t, tt.wantDomain, dom)
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "john.doe@acme.com", NormalizeEmail("  John.Doe@ACME.com "))
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		errMsg   string
	}{
		{"valid", "N3w-Passw0rd!long", ""},
		{"too short", "Sh0rt!", "at least 12"},
		{"no symbol", "NoSymbolsHere123", "upper, lower, digit, and symbol"},
		{"no upper", "lower-case-only-1", "upper, lower, digit, and symbol"},
		{"no digit", "No-Digits-At-All!", "upper, lower, digit, and symbol"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if tt.errMsg == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	t.Run("too long", func(t *testing.T) {
		long := make([]byte, MaxPasswordLength+1)
		for i := range long {
			long[i] = 'a'
		}
		err := ValidatePassword("A1!" + string(long))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at most")
	})
}

func TestValidateRole(t *testing.T) {
	for _, r := range AllRoles() {
		assert.NoError(t, ValidateRole(r), r)
	}
	assert.Error(t, ValidateRole("janitor"))
}

// --- AppError Tests ---

func TestAppError_Error(t *testing.T) {
	t.Run("without cause", func(t *testing.T) {
		err := ErrNotFound("account", "abc-123")
		assert.Equal(t, "NOT_FOUND: account abc-123 not found", err.Error())
	})

	t.Run("with cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := ErrInternal("database error", cause)
		assert.Contains(t, err.Error(), "INTERNAL_ERROR")
		assert.Contains(t, err.Error(), "connection refused")
	})
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := ErrCollaboratorUnavailable(cause)
	assert.Equal(t, cause, errors.Unwrap(err))
	assert.NotContains(t, err.Message, "root cause")
}

func TestErrorFactories(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		wantCode   string
		wantStatus int
	}{
		{"ErrNotFound", ErrNotFound("account", "123"), CodeNotFound, 404},
		{"ErrConflict", ErrConflict("already exists"), CodeConflict, 409},
		{"ErrValidation", ErrValidation("bad input"), CodeValidation, 400},
		{"ErrUnauthorized", ErrUnauthorized("no token"), CodeUnauthorized, 401},
		{"ErrForbidden", ErrForbidden("not allowed"), CodeForbidden, 403},
		{"ErrInvalidEmailFormat", ErrInvalidEmailFormat("x"), CodeInvalidEmailFormat, 400},
		{"ErrNoValidCredential", ErrNoValidCredential(), CodeNoValidCredential, 401},
		{"ErrInvalidCredential", ErrInvalidCredential(), CodeInvalidCredential, 401},
		{"ErrCredentialConsumed", ErrCredentialConsumed(), CodeCredentialConsumed, 409},
		{"ErrRateLimited", ErrRateLimited(time.Minute), CodeRateLimited, 429},
		{"ErrLoginBlocked", ErrLoginBlocked("critical risk"), CodeLoginBlocked, 403},
		{"ErrAssessmentUnavailable", ErrAssessmentUnavailable(nil), CodeAssessmentUnavailable, 503},
		{"ErrCollaboratorUnavailable", ErrCollaboratorUnavailable(nil), CodeCollaboratorUnavailable, 503},
		{"ErrInternal", ErrInternal("oops", nil), CodeInternal, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantCode, tt.err.Code)
			assert.Equal(t, tt.wantStatus, tt.err.Status)
			assert.NotEmpty(t, tt.err.Message)
		})
	}
}

func TestErrRateLimited_ClampsNegative(t *testing.T) {
	err := ErrRateLimited(-time.Second)
	assert.Equal(t, time.Duration(0), err.RetryAfter)
}

// --- Risk Tests ---

func TestRiskLevel_Ordering(t *testing.T) {
	assert.Less(t, RiskLow.Severity(), RiskMedium.Severity())
	assert.Less(t, RiskMedium.Severity(), RiskHigh.Severity())
	assert.Less(t, RiskHigh.Severity(), RiskCritical.Severity())

	assert.Equal(t, RiskHigh, RiskMedium.Max(RiskHigh))
	assert.Equal(t, RiskCritical, RiskCritical.Max(RiskLow))
	assert.Equal(t, RiskLow, RiskLevel("bogus").Max(RiskLow))
}

func TestSecurityAssessment_HasFactor(t *testing.T) {
	a := SecurityAssessment{RiskFactors: []string{FactorUnknownDevice}}
	assert.True(t, a.HasFactor(FactorUnknownDevice))
	assert.False(t, a.HasFactor(FactorSuspiciousIP))
}

// --- Credential Tests ---

func TestTemporaryCredential_State(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	c := &TemporaryCredential{CreatedAt: now, ExpiresAt: now.Add(CredentialTTL)}

	assert.Equal(t, CredentialIssued, c.State(now))
	assert.False(t, c.IsValid(now))

	c.ID = uuid.New()
	assert.Equal(t, CredentialValid, c.State(now))
	assert.True(t, c.IsValid(now.Add(CredentialTTL-time.Second)))
	assert.Equal(t, CredentialExpired, c.State(now.Add(CredentialTTL)))

	c.IsUsed = true
	assert.Equal(t, CredentialConsumed, c.State(now))
	assert.False(t, c.IsValid(now))
}

func TestTemporaryCredential_HidesSecrets(t *testing.T) {
	c := TemporaryCredential{Email: "a@acme.com", PasswordHash: "hash", SecurityToken: "tok"}
	b, err := json.Marshal(c)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "hash")
	assert.NotContains(t, string(b), "tok")
}

// --- Event Tests ---

func TestEventType_Aggregate(t *testing.T) {
	assert.Equal(t, AggregateCredential, EventCredentialIssued.Aggregate())
	assert.Equal(t, AggregateSession, EventSessionCreated.Aggregate())
	assert.Equal(t, AggregateAccount, EventAccountActivated.Aggregate())
	assert.Equal(t, AggregateLogin, EventLoginFailed.Aggregate())
}

func TestNewAuditEvent(t *testing.T) {
	now := time.Now()
	draft := NewAuditEvent(EventCredentialIssued, "jane@acme.com", map[string]any{"role": "employee"}, now)

	assert.NotEmpty(t, draft.EventID)
	assert.Equal(t, AggregateCredential, draft.AggregateType)
	assert.Equal(t, "jane@acme.com", draft.AggregateID)
	assert.Equal(t, "jane@acme.com", draft.PartitionKey)
	assert.Equal(t, EventCredentialIssued, draft.EventType)
	assert.JSONEq(t, `{"role":"employee"}`, string(draft.Payload))
	assert.JSONEq(t, `{}`, string(draft.Headers))
	assert.Equal(t, now, draft.OccurredAt)
}

func TestNewAuditEvent_NilAttrs(t *testing.T) {
	draft := NewAuditEvent(EventLoginFailed, "x@acme.com", nil, time.Now())
	assert.JSONEq(t, `{}`, string(draft.Payload))
}
