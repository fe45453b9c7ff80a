package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/attaboy/identity/internal/audit"
	"github.com/attaboy/identity/internal/domain"
	"github.com/attaboy/identity/internal/guard"
	"github.com/attaboy/identity/internal/infra"
	"github.com/attaboy/identity/internal/policy"
	"github.com/attaboy/identity/internal/repository"
)

const (
	DefaultAssessmentTimeout = 2 * time.Second

	directoryCircuit = "directory"
)

var errCircuitOpen = errors.New("directory circuit open")

// LoginContext is the input to a risk assessment.
type LoginContext struct {
	Email             string `json:"email"`
	IPAddress         string `json:"ip_address"`
	DeviceFingerprint string `json:"device_fingerprint"`
}

// RiskAssessorDeps holds the collaborators of a RiskAssessor.
type RiskAssessorDeps struct {
	Limiter   guard.Limiter
	Directory repository.DirectoryStore
	Breaker   *guard.CircuitBreaker
	Audit     audit.Sink
	Metrics   *infra.Metrics
	Logger    *slog.Logger
	Clock     func() time.Time
	Timeout   time.Duration
	Location  *time.Location
}

// RiskAssessor scores login attempts. It never fails: when a signal cannot be
// read it returns the fail-safe verdict.
type RiskAssessor struct {
	limiter   guard.Limiter
	directory repository.DirectoryStore
	breaker   *guard.CircuitBreaker
	audit     audit.Sink
	metrics   *infra.Metrics
	logger    *slog.Logger
	now       func() time.Time
	timeout   time.Duration
	loc       *time.Location
}

// NewRiskAssessor creates a RiskAssessor.
func NewRiskAssessor(d RiskAssessorDeps) *RiskAssessor {
	ra := &RiskAssessor{
		limiter:   d.Limiter,
		directory: d.Directory,
		breaker:   d.Breaker,
		audit:     d.Audit,
		metrics:   d.Metrics,
		logger:    d.Logger,
		now:       d.Clock,
		timeout:   d.Timeout,
		loc:       d.Location,
	}
	if ra.breaker == nil {
		ra.breaker = guard.NewCircuitBreaker(5, 30*time.Second)
	}
	if ra.audit == nil {
		ra.audit = audit.Discard{}
	}
	if ra.logger == nil {
		ra.logger = slog.Default()
	}
	if ra.now == nil {
		ra.now = time.Now
	}
	if ra.timeout <= 0 {
		ra.timeout = DefaultAssessmentTimeout
	}
	if ra.loc == nil {
		ra.loc = time.UTC
	}
	return ra
}

type directorySignals struct {
	failures int
	trusted  []string
}

// Assess evaluates the login context.
func (ra *RiskAssessor) Assess(ctx context.Context, lc LoginContext) domain.SecurityAssessment {
	now := ra.now()
	email := domain.NormalizeEmail(lc.Email)

	signals, err := ra.collect(ctx, email, lc, now)
	if err != nil {
		return ra.failSafe(ctx, email, lc, now, err)
	}

	assessment := policy.EvaluateLoginRisk(signals)
	assessment.AssessedAt = now

	ra.metrics.RiskAssessed(assessment)
	ra.audit.Record(ctx, domain.EventRiskAssessed, email, map[string]any{
		"risk_level":   assessment.RiskLevel,
		"risk_factors": assessment.RiskFactors,
		"allow_login":  assessment.AllowLogin,
		"ip_address":   lc.IPAddress,
		"known_device": assessment.KnownDevice,
	})
	return assessment
}

func (ra *RiskAssessor) collect(ctx context.Context, email string, lc LoginContext, now time.Time) (policy.LoginRiskSignals, error) {
	signals := policy.LoginRiskSignals{LocalHour: now.In(ra.loc).Hour()}

	// The email window counts failures only, so it is read, not incremented.
	st, err := ra.limiter.Status(ctx, guard.EmailKey(email), now)
	if err != nil {
		return signals, fmt.Errorf("limiter status: %w", err)
	}
	if st.Blocked {
		signals.RateLimited = true
		signals.RetryAfter = st.RetryAfter
	}

	if lc.IPAddress != "" {
		d, err := ra.limiter.CheckAndRecord(ctx, guard.IPKey(lc.IPAddress), now)
		if err != nil {
			return signals, fmt.Errorf("limiter record: %w", err)
		}
		if !d.Allowed {
			signals.RateLimited = true
			signals.RetryAfter = max(signals.RetryAfter, d.RetryAfter)
		}

		suspicious, err := ra.limiter.IsSuspicious(ctx, lc.IPAddress, now)
		if err != nil {
			return signals, fmt.Errorf("suspicious lookup: %w", err)
		}
		signals.SuspiciousOrigin = suspicious
	}

	dir, err := ra.directorySignals(ctx, email, now)
	if err != nil {
		return signals, err
	}
	signals.RecentFailures = dir.failures
	signals.TrustedDevices = len(dir.trusted)
	signals.KnownDevice = lc.DeviceFingerprint != "" && slices.Contains(dir.trusted, lc.DeviceFingerprint)

	return signals, nil
}

// directorySignals fetches both directory lookups concurrently under the
// assessment timeout, guarded by the directory circuit breaker.
func (ra *RiskAssessor) directorySignals(ctx context.Context, email string, now time.Time) (directorySignals, error) {
	if res := ra.breaker.Check(directoryCircuit); !res.Allowed {
		return directorySignals{}, fmt.Errorf("%w: %s", errCircuitOpen, res.Reason)
	}

	ctx, cancel := context.WithTimeout(ctx, ra.timeout)
	defer cancel()

	var out directorySignals
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := ra.directory.CountRecentFailedAttempts(gctx, email, now.Add(-policy.FailedAttemptLookback))
		if err != nil {
			return fmt.Errorf("count failed attempts: %w", err)
		}
		out.failures = n
		return nil
	})
	g.Go(func() error {
		devices, err := ra.directory.ListTrustedDevices(gctx, email)
		if err != nil {
			return fmt.Errorf("list trusted devices: %w", err)
		}
		out.trusted = devices
		return nil
	})

	if err := g.Wait(); err != nil {
		ra.breaker.RecordFailure(directoryCircuit)
		return directorySignals{}, err
	}
	ra.breaker.RecordSuccess(directoryCircuit)
	return out, nil
}

func (ra *RiskAssessor) failSafe(ctx context.Context, email string, lc LoginContext, now time.Time, cause error) domain.SecurityAssessment {
	assessment := policy.FailSafeAssessment()
	assessment.AssessedAt = now

	ra.logger.WarnContext(ctx, "risk assessment degraded to fail-safe", "email", email, "error", cause)
	ra.metrics.RiskAssessed(assessment)
	ra.audit.Record(ctx, domain.EventRiskAssessmentFailed, email, map[string]any{
		"risk_level": assessment.RiskLevel,
		"ip_address": lc.IPAddress,
		"cause":      cause.Error(),
	})
	return assessment
}
