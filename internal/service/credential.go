package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/attaboy/identity/internal/audit"
	"github.com/attaboy/identity/internal/auth"
	"github.com/attaboy/identity/internal/domain"
	"github.com/attaboy/identity/internal/guard"
	"github.com/attaboy/identity/internal/infra"
	"github.com/attaboy/identity/internal/repository"
)

// CredentialManagerDeps holds the collaborators of a CredentialManager.
type CredentialManagerDeps struct {
	Credentials    repository.CredentialStore
	Directory      repository.DirectoryStore
	Tx             repository.Transactor
	Limiter        guard.Limiter
	Hasher         *auth.PasswordHasher
	Generator      *auth.Generator
	Audit          audit.Sink
	Metrics        *infra.Metrics
	Logger         *slog.Logger
	Clock          func() time.Time
	PasswordLength int
}

// CredentialManager issues and validates single-use temporary credentials.
type CredentialManager struct {
	credentials repository.CredentialStore
	directory   repository.DirectoryStore
	tx          repository.Transactor
	limiter     guard.Limiter
	hasher      *auth.PasswordHasher
	gen         *auth.Generator
	audit       audit.Sink
	metrics     *infra.Metrics
	logger      *slog.Logger
	now         func() time.Time
	pwLength    int
}

// NewCredentialManager creates a CredentialManager.
func NewCredentialManager(d CredentialManagerDeps) *CredentialManager {
	m := &CredentialManager{
		credentials: d.Credentials,
		directory:   d.Directory,
		tx:          d.Tx,
		limiter:     d.Limiter,
		hasher:      d.Hasher,
		gen:         d.Generator,
		audit:       d.Audit,
		metrics:     d.Metrics,
		logger:      d.Logger,
		now:         d.Clock,
		pwLength:    d.PasswordLength,
	}
	if m.gen == nil {
		m.gen = auth.NewGenerator(nil)
	}
	if m.audit == nil {
		m.audit = audit.Discard{}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.pwLength < auth.MinGeneratedPasswordLength {
		m.pwLength = auth.DefaultGeneratedPasswordLength
	}
	return m
}

// IssueRequest describes a credential to issue.
type IssueRequest struct {
	Email  string      `json:"email"`
	Role   domain.Role `json:"role"`
	Issuer string      `json:"issuer"`
	// RoleConfidence is stored on the account at activation; zero means 100.
	RoleConfidence int `json:"role_confidence,omitempty"`
}

// Issue creates a temporary credential and returns its plaintext password.
// The plaintext is never stored and is not retrievable afterwards.
func (m *CredentialManager) Issue(ctx context.Context, req IssueRequest) (domain.IssuedCredential, error) {
	email := domain.NormalizeEmail(req.Email)
	if err := domain.ValidateEmail(email); err != nil {
		return domain.IssuedCredential{}, domain.ErrInvalidEmailFormat(req.Email)
	}
	if err := domain.ValidateRole(req.Role); err != nil {
		return domain.IssuedCredential{}, domain.ErrValidation(err.Error())
	}
	if req.Issuer == "" {
		return domain.IssuedCredential{}, domain.ErrValidation("issuer is required")
	}
	confidence := req.RoleConfidence
	if confidence <= 0 || confidence > 100 {
		confidence = 100
	}

	password, err := m.gen.Password(m.pwLength)
	if err != nil {
		return domain.IssuedCredential{}, domain.ErrInternal("generate password", err)
	}
	hash, err := m.hasher.Hash(password)
	if err != nil {
		return domain.IssuedCredential{}, domain.ErrInternal("hash password", err)
	}
	token, err := m.gen.Token(auth.SecurityTokenBytes)
	if err != nil {
		return domain.IssuedCredential{}, domain.ErrInternal("generate security token", err)
	}

	now := m.now().UTC()
	cred := domain.TemporaryCredential{
		Email:             email,
		RoleName:          req.Role,
		RoleConfidence:    confidence,
		PasswordHash:      hash,
		SecurityToken:     token,
		CreatedAt:         now,
		ExpiresAt:         now.Add(domain.CredentialTTL),
		MustChangeOnLogin: true,
		CreatedBy:         req.Issuer,
	}
	if err := m.credentials.CreateCredential(ctx, &cred); err != nil {
		return domain.IssuedCredential{}, unavailable(err)
	}

	m.metrics.Credential(infra.OutcomeIssued)
	m.audit.Record(ctx, domain.EventCredentialIssued, email, map[string]any{
		"credential_id": cred.ID,
		"role":          cred.RoleName,
		"issued_by":     cred.CreatedBy,
		"expires_at":    cred.ExpiresAt,
	})

	return domain.IssuedCredential{Credential: cred, Password: password}, nil
}

// ActivationInput is a temporary-credential activation attempt.
type ActivationInput struct {
	Email             string `json:"email"`
	Password          string `json:"temporary_password"`
	NewPassword       string `json:"new_password,omitempty"`
	IPAddress         string `json:"-"`
	DeviceFingerprint string `json:"-"`
}

// Validate checks a temporary credential and, when complete, consumes it and
// creates or updates the account. Concurrent calls for one credential
// produce exactly one activation. Each call holds a slot in the email failure
// window while the password is checked; only a wrong password keeps it.
func (m *CredentialManager) Validate(ctx context.Context, in ActivationInput) (domain.ActivationResult, error) {
	email := domain.NormalizeEmail(in.Email)
	if _, _, err := domain.SplitEmail(email); err != nil {
		return domain.ActivationResult{}, err
	}
	now := m.now().UTC()

	slot, err := reserveAttempt(ctx, m.limiter, m.logger, email, now)
	if err != nil {
		if domain.IsCode(err, domain.CodeRateLimited) {
			m.metrics.Credential(infra.OutcomeRateLimited)
		}
		return domain.ActivationResult{}, err
	}
	defer slot.Close(ctx)

	cred, err := m.credentials.FindLatestValidCredential(ctx, email, now)
	if err != nil {
		return domain.ActivationResult{}, unavailable(err)
	}
	if cred == nil {
		m.metrics.Credential(infra.OutcomeNoCredential)
		m.audit.Record(ctx, domain.EventCredentialValidationFailed, email, map[string]any{
			"reason": "no_valid_credential",
		})
		return domain.ActivationResult{}, domain.ErrNoValidCredential()
	}

	ok, err := m.hasher.Verify(cred.PasswordHash, in.Password)
	if err != nil {
		return domain.ActivationResult{}, domain.ErrInternal("verify credential", err)
	}
	if !ok {
		slot.Fail()
		m.recordFailure(ctx, email, cred, in, now)
		return domain.ActivationResult{}, domain.ErrInvalidCredential()
	}

	result := domain.ActivationResult{Email: email, Role: cred.RoleName}

	if cred.MustChangeOnLogin && in.NewPassword == "" {
		m.metrics.Credential(infra.OutcomePasswordChangeRequired)
		m.audit.Record(ctx, domain.EventCredentialPasswordChangeDue, email, map[string]any{
			"credential_id": cred.ID,
		})
		result.RequiresPasswordChange = true
		return result, nil
	}

	accountHash := cred.PasswordHash
	if in.NewPassword != "" {
		if err := domain.ValidatePassword(in.NewPassword); err != nil {
			return domain.ActivationResult{}, domain.ErrValidation(err.Error())
		}
		if in.NewPassword == in.Password {
			return domain.ActivationResult{}, domain.ErrValidation("new password must differ from the temporary password")
		}
		if accountHash, err = m.hasher.Hash(in.NewPassword); err != nil {
			return domain.ActivationResult{}, domain.ErrInternal("hash password", err)
		}
	}

	err = m.tx.InTx(ctx, func(ctx context.Context) error {
		if err := m.credentials.ConsumeCredential(ctx, cred.ID, now); err != nil {
			return err
		}
		account, created, err := m.upsertAccount(ctx, cred, accountHash, in.NewPassword == "")
		if err != nil {
			return err
		}
		result.UserID = account.ID
		result.CreatedAccount = created
		return nil
	})
	if err != nil {
		if domain.IsCode(err, domain.CodeCredentialConsumed) {
			m.metrics.Credential(infra.OutcomeConsumeConflict)
			m.audit.Record(ctx, domain.EventCredentialConsumeRaceLost, email, map[string]any{
				"credential_id": cred.ID,
			})
			return domain.ActivationResult{}, err
		}
		m.logger.ErrorContext(ctx, "credential activation failed", "email", email, "credential_id", cred.ID, "error", err)
		return domain.ActivationResult{}, unavailable(err)
	}

	result.Activated = true
	m.metrics.Credential(infra.OutcomeActivated)
	m.audit.Record(ctx, domain.EventCredentialConsumed, email, map[string]any{
		"credential_id": cred.ID,
		"user_id":       result.UserID,
	})
	m.audit.Record(ctx, domain.EventAccountActivated, email, map[string]any{
		"user_id": result.UserID,
		"role":    result.Role,
		"created": result.CreatedAccount,
	})
	m.recordAttempt(ctx, domain.LoginAttempt{
		Email:             email,
		IPAddress:         in.IPAddress,
		DeviceFingerprint: in.DeviceFingerprint,
		Success:           true,
		AttemptedAt:       now,
	})

	return result, nil
}

func (m *CredentialManager) upsertAccount(ctx context.Context, cred *domain.TemporaryCredential, hash string, mustChange bool) (*domain.Account, bool, error) {
	account, err := m.directory.FindAccountByEmail(ctx, cred.Email)
	if err != nil {
		return nil, false, err
	}

	if account == nil {
		account = &domain.Account{
			Email:              cred.Email,
			PasswordHash:       hash,
			Role:               cred.RoleName,
			RoleConfidence:     cred.RoleConfidence,
			MustChangePassword: mustChange,
		}
		if err := m.directory.CreateAccount(ctx, account); err != nil {
			return nil, false, err
		}
		return account, true, nil
	}

	if err := m.directory.UpdatePassword(ctx, account.ID, hash, mustChange); err != nil {
		return nil, false, err
	}
	if err := m.directory.UpsertAccountRole(ctx, account.ID, cred.RoleName, cred.RoleConfidence); err != nil {
		return nil, false, err
	}
	return account, false, nil
}

func (m *CredentialManager) recordFailure(ctx context.Context, email string, cred *domain.TemporaryCredential, in ActivationInput, now time.Time) {
	m.metrics.Credential(infra.OutcomeInvalid)
	m.audit.Record(ctx, domain.EventCredentialValidationFailed, email, map[string]any{
		"reason":        "invalid_password",
		"credential_id": cred.ID,
		"ip_address":    in.IPAddress,
	})

	m.recordAttempt(ctx, domain.LoginAttempt{
		Email:             email,
		IPAddress:         in.IPAddress,
		DeviceFingerprint: in.DeviceFingerprint,
		Success:           false,
		Reason:            domain.AttemptReasonInvalidCredential,
		AttemptedAt:       now,
	})
}

func (m *CredentialManager) recordAttempt(ctx context.Context, attempt domain.LoginAttempt) {
	if err := m.directory.RecordLoginAttempt(ctx, attempt); err != nil {
		m.logger.WarnContext(ctx, "record login attempt failed", "email", attempt.Email, "error", err)
	}
}

// History returns every credential issued to email, newest first.
func (m *CredentialManager) History(ctx context.Context, email string) ([]domain.TemporaryCredential, error) {
	email = domain.NormalizeEmail(email)
	if err := domain.ValidateEmail(email); err != nil {
		return nil, domain.ErrInvalidEmailFormat(email)
	}
	creds, err := m.credentials.ListCredentials(ctx, email)
	if err != nil {
		return nil, unavailable(err)
	}
	return creds, nil
}
