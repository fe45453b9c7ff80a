package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/attaboy/identity/internal/audit"
	"github.com/attaboy/identity/internal/auth"
	"github.com/attaboy/identity/internal/domain"
	"github.com/attaboy/identity/internal/guard"
	"github.com/attaboy/identity/internal/policy"
	"github.com/attaboy/identity/internal/repository"
)

var baseTime = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	clock    *testClock
	store    *repository.MemoryStore
	limiter  *guard.MemoryLimiter
	recorder *audit.Recorder
	hasher   *auth.PasswordHasher
	jwt      *auth.JWTManager
	breaker  *guard.CircuitBreaker
	risk     *RiskAssessor
	creds    *CredentialManager
	sessions *SessionIssuer
	gateway  *Gateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	h, err := auth.NewPasswordHasher(auth.AlgorithmArgon2id)
	require.NoError(t, err)
	h = h.WithArgon2Params(auth.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})

	f := &fixture{
		clock:    &testClock{now: baseTime},
		store:    repository.NewMemoryStore(),
		limiter:  guard.NewMemoryLimiter(guard.DefaultLimiterConfig()),
		recorder: &audit.Recorder{},
		hasher:   h,
		breaker:  guard.NewCircuitBreaker(3, time.Minute),
	}
	f.jwt = auth.NewJWTManager("test-secret-at-least-32-bytes-long!!", time.Hour, time.Hour)
	f.risk = NewRiskAssessor(RiskAssessorDeps{
		Limiter:   f.limiter,
		Directory: f.store,
		Breaker:   f.breaker,
		Audit:     f.recorder,
		Clock:     f.clock.Now,
	})
	f.creds = NewCredentialManager(CredentialManagerDeps{
		Credentials: f.store,
		Directory:   f.store,
		Tx:          f.store,
		Limiter:     f.limiter,
		Hasher:      h,
		Audit:       f.recorder,
		Clock:       f.clock.Now,
	})
	f.sessions = NewSessionIssuer(f.store, nil, f.recorder, nil, f.clock.Now)
	f.gateway = NewGateway(GatewayDeps{
		Rules:       policy.MustDefaultRuleSet(),
		Risk:        f.risk,
		Credentials: f.creds,
		Sessions:    f.sessions,
		Directory:   f.store,
		Limiter:     f.limiter,
		Hasher:      h,
		JWT:         f.jwt,
		Audit:       f.recorder,
		Clock:       f.clock.Now,
	})
	return f
}

func (f *fixture) issue(t *testing.T, email string, role domain.Role) domain.IssuedCredential {
	t.Helper()
	issued, err := f.creds.Issue(context.Background(), IssueRequest{Email: email, Role: role, Issuer: "hr@acme.com"})
	require.NoError(t, err)
	return issued
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var appErr *domain.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %T: %v", err, err)
	require.Equal(t, code, appErr.Code)
}

// failingDirectory fails every risk signal lookup.
type failingDirectory struct {
	repository.DirectoryStore
	err error
}

func (d failingDirectory) CountRecentFailedAttempts(context.Context, string, time.Time) (int, error) {
	return 0, d.err
}

func (d failingDirectory) ListTrustedDevices(context.Context, string) ([]string, error) {
	return nil, d.err
}
