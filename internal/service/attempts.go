package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/attaboy/identity/internal/domain"
	"github.com/attaboy/identity/internal/guard"
)

// attemptSlot is one reserved place in an email failure window. Reserving
// before the password check makes concurrent guesses for one email count
// against the threshold as they arrive.
type attemptSlot struct {
	limiter guard.Limiter
	logger  *slog.Logger
	key     string
	at      time.Time
	kept    bool
}

// reserveAttempt records an attempt for email, or fails with RATE_LIMITED
// when the window is already full.
func reserveAttempt(ctx context.Context, limiter guard.Limiter, logger *slog.Logger, email string, now time.Time) (*attemptSlot, error) {
	key := guard.EmailKey(email)
	d, err := limiter.CheckAndRecord(ctx, key, now)
	if err != nil {
		return nil, domain.ErrCollaboratorUnavailable(err)
	}
	if !d.Allowed {
		return nil, domain.ErrRateLimited(d.RetryAfter)
	}
	return &attemptSlot{limiter: limiter, logger: logger, key: key, at: now}, nil
}

// Fail keeps the slot as a counted failure.
func (s *attemptSlot) Fail() { s.kept = true }

// Close hands the slot back unless Fail was called.
func (s *attemptSlot) Close(ctx context.Context) {
	if s.kept {
		return
	}
	if err := s.limiter.Release(context.WithoutCancel(ctx), s.key, s.at); err != nil {
		s.logger.WarnContext(ctx, "limiter release failed", "key", s.key, "error", err)
	}
}
