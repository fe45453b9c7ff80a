package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/attaboy/identity/internal/audit"
	"github.com/attaboy/identity/internal/auth"
	"github.com/attaboy/identity/internal/domain"
	"github.com/attaboy/identity/internal/infra"
	"github.com/attaboy/identity/internal/repository"
)

const sessionTokenBytes = 32

// SessionIssuer creates sessions that carry the risk verdict that admitted them.
type SessionIssuer struct {
	store   repository.CredentialStore
	gen     *auth.Generator
	audit   audit.Sink
	metrics *infra.Metrics
	now     func() time.Time
}

// NewSessionIssuer creates a SessionIssuer.
func NewSessionIssuer(store repository.CredentialStore, gen *auth.Generator, sink audit.Sink, metrics *infra.Metrics, clock func() time.Time) *SessionIssuer {
	if gen == nil {
		gen = auth.NewGenerator(nil)
	}
	if sink == nil {
		sink = audit.Discard{}
	}
	if clock == nil {
		clock = time.Now
	}
	return &SessionIssuer{store: store, gen: gen, audit: sink, metrics: metrics, now: clock}
}

// Issue persists a new session for userID.
func (s *SessionIssuer) Issue(ctx context.Context, userID uuid.UUID, assessment domain.SecurityAssessment, device domain.DeviceInfo) (domain.Session, error) {
	token, err := s.gen.Token(sessionTokenBytes)
	if err != nil {
		return domain.Session{}, domain.ErrInternal("generate session token", err)
	}

	flags := make([]string, len(assessment.RiskFactors))
	copy(flags, assessment.RiskFactors)

	now := s.now().UTC()
	session := domain.Session{
		UserID:            userID,
		SessionToken:      token,
		DeviceFingerprint: device.Fingerprint,
		IPAddress:         device.IPAddress,
		UserAgent:         device.UserAgent,
		RiskLevel:         assessment.RiskLevel,
		IsTrustedDevice:   assessment.KnownDevice,
		SecurityFlags:     flags,
		CreatedAt:         now,
		ExpiresAt:         now.Add(domain.SessionTTL),
	}
	if err := s.store.CreateSession(ctx, &session); err != nil {
		return domain.Session{}, unavailable(err)
	}

	s.metrics.SessionCreated(session.RiskLevel)
	s.audit.Record(ctx, domain.EventSessionCreated, userID.String(), map[string]any{
		"session_id":        session.ID,
		"risk_level":        session.RiskLevel,
		"is_trusted_device": session.IsTrustedDevice,
		"ip_address":        session.IPAddress,
	})
	return session, nil
}

// Lookup returns the live session for token.
func (s *SessionIssuer) Lookup(ctx context.Context, token string) (domain.Session, error) {
	if token == "" {
		return domain.Session{}, domain.ErrUnauthorized("missing session token")
	}
	session, err := s.store.FindSessionByToken(ctx, token)
	if err != nil {
		return domain.Session{}, unavailable(err)
	}
	if session == nil || !s.now().Before(session.ExpiresAt) {
		return domain.Session{}, domain.ErrUnauthorized("session not found or expired")
	}
	return *session, nil
}
