package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/attaboy/identity/internal/audit"
	"github.com/attaboy/identity/internal/auth"
	"github.com/attaboy/identity/internal/domain"
	"github.com/attaboy/identity/internal/guard"
	"github.com/attaboy/identity/internal/infra"
	"github.com/attaboy/identity/internal/policy"
	"github.com/attaboy/identity/internal/repository"
)

// GatewayDeps holds the collaborators of a Gateway.
type GatewayDeps struct {
	Rules       *policy.RuleSet
	Risk        *RiskAssessor
	Credentials *CredentialManager
	Sessions    *SessionIssuer
	Directory   repository.DirectoryStore
	Limiter     guard.Limiter
	Hasher      *auth.PasswordHasher
	JWT         *auth.JWTManager
	Audit       audit.Sink
	Metrics     *infra.Metrics
	Logger      *slog.Logger
	Clock       func() time.Time
}

// Gateway runs the onboarding, activation and login flows end to end.
type Gateway struct {
	rules     *policy.RuleSet
	risk      *RiskAssessor
	creds     *CredentialManager
	sessions  *SessionIssuer
	directory repository.DirectoryStore
	limiter   guard.Limiter
	hasher    *auth.PasswordHasher
	jwt       *auth.JWTManager
	audit     audit.Sink
	metrics   *infra.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewGateway creates a Gateway.
func NewGateway(d GatewayDeps) *Gateway {
	g := &Gateway{
		rules:     d.Rules,
		risk:      d.Risk,
		creds:     d.Credentials,
		sessions:  d.Sessions,
		directory: d.Directory,
		limiter:   d.Limiter,
		hasher:    d.Hasher,
		jwt:       d.JWT,
		audit:     d.Audit,
		metrics:   d.Metrics,
		logger:    d.Logger,
		now:       d.Clock,
	}
	if g.audit == nil {
		g.audit = audit.Discard{}
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

// InferRole suggests a role for email.
func (g *Gateway) InferRole(_ context.Context, email string) (domain.RoleInferenceResult, error) {
	result, err := g.rules.InferRole(email)
	if err != nil {
		return result, err
	}
	g.metrics.RoleInferred(result.SuggestedRole, result.RequiresApproval)
	return result, nil
}

// OnboardRequest asks for a temporary credential for a new employee.
type OnboardRequest struct {
	Email string `json:"email"`
	// Role overrides the inferred role when set.
	Role       domain.Role `json:"role,omitempty"`
	Issuer     string      `json:"-"`
	IssuerRole domain.Role `json:"-"`
}

// OnboardResult carries the inference and the one-time plaintext password.
type OnboardResult struct {
	Inference  domain.RoleInferenceResult `json:"inference"`
	Role       domain.Role                `json:"role"`
	Credential domain.IssuedCredential    `json:"credential"`
}

// Onboard infers a role for the email and issues a temporary credential.
func (g *Gateway) Onboard(ctx context.Context, req OnboardRequest) (OnboardResult, error) {
	inference, err := g.InferRole(ctx, req.Email)
	if err != nil {
		return OnboardResult{}, err
	}
	email := domain.NormalizeEmail(req.Email)

	role, confidence := inference.SuggestedRole, inference.Confidence
	if req.Role != "" {
		if err := domain.ValidateRole(req.Role); err != nil {
			return OnboardResult{}, domain.ErrValidation(err.Error())
		}
		if req.Role != role {
			confidence = 100
		}
		role = req.Role
	}
	if req.IssuerRole != "" && !auth.CanAssign(req.IssuerRole, role) {
		return OnboardResult{}, domain.ErrForbidden("issuer may not assign role " + string(role))
	}

	g.audit.Record(ctx, domain.EventRoleInferred, email, map[string]any{
		"suggested_role":    inference.SuggestedRole,
		"assigned_role":     role,
		"confidence":        inference.Confidence,
		"requires_approval": inference.RequiresApproval,
		"security_flags":    inference.SecurityFlags,
		"issued_by":         req.Issuer,
	})

	issued, err := g.creds.Issue(ctx, IssueRequest{
		Email:          email,
		Role:           role,
		Issuer:         req.Issuer,
		RoleConfidence: confidence,
	})
	if err != nil {
		return OnboardResult{}, err
	}

	return OnboardResult{Inference: inference, Role: role, Credential: issued}, nil
}

// AuthResult is returned by Activate and Login.
type AuthResult struct {
	Assessment             domain.SecurityAssessment `json:"assessment"`
	RequiresPasswordChange bool                      `json:"requires_password_change"`
	UserID                 uuid.UUID                 `json:"user_id,omitempty"`
	Email                  string                    `json:"email"`
	Role                   domain.Role               `json:"role,omitempty"`
	Session                *domain.Session           `json:"session,omitempty"`
	AccessToken            string                    `json:"access_token,omitempty"`
	Activation             *domain.ActivationResult  `json:"activation,omitempty"`
}

// ActivationRequest is a first login with a temporary credential.
type ActivationRequest struct {
	Email             string            `json:"email"`
	TemporaryPassword string            `json:"temporary_password"`
	NewPassword       string            `json:"new_password,omitempty"`
	Device            domain.DeviceInfo `json:"-"`
}

// Activate assesses risk, validates the temporary credential, and opens a session.
func (g *Gateway) Activate(ctx context.Context, req ActivationRequest) (AuthResult, error) {
	email := domain.NormalizeEmail(req.Email)
	assessment := g.risk.Assess(ctx, LoginContext{
		Email:             email,
		IPAddress:         req.Device.IPAddress,
		DeviceFingerprint: req.Device.Fingerprint,
	})
	if err := g.gate(ctx, email, assessment); err != nil {
		return AuthResult{}, err
	}

	activation, err := g.creds.Validate(ctx, ActivationInput{
		Email:             email,
		Password:          req.TemporaryPassword,
		NewPassword:       req.NewPassword,
		IPAddress:         req.Device.IPAddress,
		DeviceFingerprint: req.Device.Fingerprint,
	})
	if err != nil {
		return AuthResult{}, err
	}

	result := AuthResult{
		Assessment:             assessment,
		RequiresPasswordChange: activation.RequiresPasswordChange,
		UserID:                 activation.UserID,
		Email:                  email,
		Role:                   activation.Role,
		Activation:             &activation,
	}
	if !activation.Activated {
		return result, nil
	}

	if err := g.openSession(ctx, &result, req.Device); err != nil {
		return AuthResult{}, err
	}
	return result, nil
}

// LoginRequest is a password login for an activated account.
type LoginRequest struct {
	Email    string            `json:"email"`
	Password string            `json:"password"`
	Device   domain.DeviceInfo `json:"-"`
}

// Login assesses risk, verifies the account password, and opens a session.
func (g *Gateway) Login(ctx context.Context, req LoginRequest) (AuthResult, error) {
	email := domain.NormalizeEmail(req.Email)
	if _, _, err := domain.SplitEmail(email); err != nil {
		return AuthResult{}, err
	}

	assessment := g.risk.Assess(ctx, LoginContext{
		Email:             email,
		IPAddress:         req.Device.IPAddress,
		DeviceFingerprint: req.Device.Fingerprint,
	})
	if err := g.gate(ctx, email, assessment); err != nil {
		return AuthResult{}, err
	}

	slot, err := reserveAttempt(ctx, g.limiter, g.logger, email, g.now().UTC())
	if err != nil {
		if domain.IsCode(err, domain.CodeRateLimited) {
			g.metrics.Login(infra.OutcomeBlocked)
			g.audit.Record(ctx, domain.EventLoginBlocked, email, map[string]any{
				"risk_level":   assessment.RiskLevel,
				"risk_factors": []string{domain.FactorRateLimitExceeded},
			})
		}
		return AuthResult{}, err
	}
	defer slot.Close(ctx)

	account, err := g.directory.FindAccountByEmail(ctx, email)
	if err != nil {
		return AuthResult{}, unavailable(err)
	}
	if account == nil {
		// Unknown accounts pay for a verification too, so timing does not
		// reveal which emails exist.
		g.hasher.VerifyAbsent(req.Password)
		slot.Fail()
		g.loginFailed(ctx, email, req.Device, domain.AttemptReasonUnknownAccount)
		return AuthResult{}, domain.ErrInvalidCredential()
	}

	ok, err := g.hasher.Verify(account.PasswordHash, req.Password)
	if err != nil {
		return AuthResult{}, domain.ErrInternal("verify password", err)
	}
	if !ok {
		slot.Fail()
		g.loginFailed(ctx, email, req.Device, domain.AttemptReasonInvalidPassword)
		return AuthResult{}, domain.ErrInvalidCredential()
	}

	if err := g.directory.RecordLoginAttempt(ctx, domain.LoginAttempt{
		Email:             email,
		IPAddress:         req.Device.IPAddress,
		DeviceFingerprint: req.Device.Fingerprint,
		Success:           true,
		AttemptedAt:       g.now().UTC(),
	}); err != nil {
		g.logger.WarnContext(ctx, "record login attempt failed", "email", email, "error", err)
	}

	result := AuthResult{
		Assessment:             assessment,
		RequiresPasswordChange: account.MustChangePassword,
		UserID:                 account.ID,
		Email:                  email,
		Role:                   account.Role,
	}
	if err := g.openSession(ctx, &result, req.Device); err != nil {
		return AuthResult{}, err
	}

	g.metrics.Login(infra.OutcomeSucceeded)
	g.audit.Record(ctx, domain.EventLoginSucceeded, email, map[string]any{
		"user_id":    account.ID,
		"risk_level": assessment.RiskLevel,
		"session_id": result.Session.ID,
	})
	return result, nil
}

// Session returns the live session for an opaque session token.
func (g *Gateway) Session(ctx context.Context, token string) (domain.Session, error) {
	return g.sessions.Lookup(ctx, token)
}

// gate turns a disallowing assessment into the caller-facing error.
func (g *Gateway) gate(ctx context.Context, email string, a domain.SecurityAssessment) error {
	if a.AllowLogin {
		return nil
	}

	g.metrics.Login(infra.OutcomeBlocked)
	g.audit.Record(ctx, domain.EventLoginBlocked, email, map[string]any{
		"risk_level":   a.RiskLevel,
		"risk_factors": a.RiskFactors,
	})

	if a.HasFactor(domain.FactorRateLimitExceeded) {
		return domain.ErrRateLimited(a.RetryAfter)
	}
	return domain.ErrLoginBlocked("login blocked by risk assessment")
}

func (g *Gateway) openSession(ctx context.Context, result *AuthResult, device domain.DeviceInfo) error {
	session, err := g.sessions.Issue(ctx, result.UserID, result.Assessment, device)
	if err != nil {
		return err
	}
	token, err := g.jwt.GenerateToken(auth.TokenParams{
		Realm:     auth.RealmSession,
		SubjectID: result.UserID,
		Email:     result.Email,
		Role:      result.Role,
		SessionID: session.ID,
		RiskLevel: session.RiskLevel,
	})
	if err != nil {
		return domain.ErrInternal("generate token", err)
	}
	result.Session = &session
	result.AccessToken = token
	return nil
}

func (g *Gateway) loginFailed(ctx context.Context, email string, device domain.DeviceInfo, reason string) {
	now := g.now().UTC()
	g.metrics.Login(infra.OutcomeInvalid)
	g.audit.Record(ctx, domain.EventLoginFailed, email, map[string]any{
		"reason":     reason,
		"ip_address": device.IPAddress,
	})
	if err := g.directory.RecordLoginAttempt(ctx, domain.LoginAttempt{
		Email:             email,
		IPAddress:         device.IPAddress,
		DeviceFingerprint: device.Fingerprint,
		Success:           false,
		Reason:            reason,
		AttemptedAt:       now,
	}); err != nil {
		g.logger.WarnContext(ctx, "record login attempt failed", "email", email, "error", err)
	}
}

// CredentialHistory lists every credential issued to email, newest first.
func (g *Gateway) CredentialHistory(ctx context.Context, email string) ([]domain.TemporaryCredential, error) {
	return g.creds.History(ctx, email)
}

// Rules returns the active role rule catalog.
func (g *Gateway) Rules() []policy.RoleRule {
	return g.rules.Rules()
}
