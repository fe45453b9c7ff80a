//go:build integration

package testutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/attaboy/identity/internal/app"
	"github.com/attaboy/identity/internal/audit"
	"github.com/attaboy/identity/internal/auth"
	"github.com/attaboy/identity/internal/guard"
	"github.com/attaboy/identity/internal/handler"
	"github.com/attaboy/identity/internal/infra"
	"github.com/attaboy/identity/internal/policy"
	"github.com/attaboy/identity/internal/repository"
	"github.com/attaboy/identity/internal/service"
)

const (
	TestJWTSecret = "integration-test-secret-0123456789abcdef"
	TestDBHost    = "localhost"
	TestDBPort    = 5435
	TestDBUser    = "identity"
	TestDBPass    = "identity"
	TestDBName    = "identity_test"
)

// TestEnv holds all resources for an integration test.
type TestEnv struct {
	Server  *httptest.Server
	Pool    *pgxpool.Pool
	JWTMgr  *auth.JWTManager
	Gateway *service.Gateway
	Limiter guard.Limiter
	Audit   *audit.AsyncSink
	t       *testing.T
}

var (
	sharedPool *pgxpool.Pool
	poolOnce   sync.Once
	poolErr    error
)

func testDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		TestDBUser, TestDBPass, TestDBHost, TestDBPort, TestDBName)
}

func bootstrapDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		TestDBUser, TestDBPass, TestDBHost, TestDBPort, "identity")
}

func ensureTestDB() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Connect to the main database to create the test database
	bPool, err := pgxpool.New(ctx, bootstrapDSN())
	if err != nil {
		return fmt.Errorf("connect bootstrap db: %w", err)
	}
	defer bPool.Close()

	var exists bool
	err = bPool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", TestDBName).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check db exists: %w", err)
	}

	if !exists {
		_, err = bPool.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s", TestDBName))
		if err != nil {
			return fmt.Errorf("create test db: %w", err)
		}
	}

	return nil
}

func runMigrations() error {
	dir, err := infra.FindMigrationDir(".")
	if err != nil {
		return err
	}
	return infra.RunMigrations(dir, testDSN(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func getSharedPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	poolOnce.Do(func() {
		if err := ensureTestDB(); err != nil {
			poolErr = err
			return
		}
		if err := runMigrations(); err != nil {
			poolErr = fmt.Errorf("run migrations: %w", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		poolCfg, err := pgxpool.ParseConfig(testDSN())
		if err != nil {
			poolErr = fmt.Errorf("parse pool config: %w", err)
			return
		}
		poolCfg.MaxConns = 20
		poolCfg.MinConns = 1

		sharedPool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			poolErr = fmt.Errorf("create pool: %w", err)
		}
	})

	if poolErr != nil {
		t.Fatalf("failed to initialize test pool: %v", poolErr)
	}
	return sharedPool
}

// NewTestEnv creates a test environment with an httptest.Server backed by the
// real router, the pgx stores and the outbox audit sink.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	pool := getSharedPool(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	hasher, err := auth.NewPasswordHasher(auth.AlgorithmArgon2id)
	if err != nil {
		t.Fatalf("password hasher: %v", err)
	}
	hasher = hasher.WithArgon2Params(auth.Argon2Params{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})

	jwtMgr := auth.NewJWTManager(TestJWTSecret, time.Hour, time.Hour)
	limiter := guard.NewMemoryLimiter(guard.DefaultLimiterConfig())
	metrics := infra.NewMetrics()
	noon := func() time.Time {
		n := time.Now().UTC()
		return time.Date(n.Year(), n.Month(), n.Day(), 12, n.Minute(), n.Second(), n.Nanosecond(), time.UTC)
	}

	sink := audit.NewAsyncSink(audit.NewOutboxSink(pool, repository.NewOutboxRepository(), logger), audit.DefaultQueueSize, logger)

	gw := app.NewGateway(app.Components{
		Directory:   repository.NewPgDirectoryStore(pool),
		Credentials: repository.NewPgCredentialStore(pool),
		Tx:          repository.NewPgTransactor(pool),
		Limiter:     limiter,
		Audit:       sink,
		Rules:       policy.MustDefaultRuleSet(),
		Hasher:      hasher,
		JWT:         jwtMgr,
		Metrics:     metrics,
		Logger:      logger,
		Clock:       noon,
	})

	router := app.NewRouter(app.RouterDeps{
		Gateway: gw,
		JWTMgr:  jwtMgr,
		Logger:  logger,
		Metrics: metrics,
		HealthChecks: map[string]handler.HealthCheck{
			"postgres": func(ctx context.Context) error { return infra.HealthCheck(ctx, pool) },
		},
	})

	server := httptest.NewServer(router)

	env := &TestEnv{
		Server:  server,
		Pool:    pool,
		JWTMgr:  jwtMgr,
		Gateway: gw,
		Limiter: limiter,
		Audit:   sink,
		t:       t,
	}

	t.Cleanup(func() {
		server.Close()
		_ = sink.Close(context.Background())
		env.CleanAll()
	})

	// Clean before test to ensure isolation
	env.CleanAll()

	return env
}

// FlushAudit waits until every audit event recorded so far is in event_outbox.
func (e *TestEnv) FlushAudit() {
	e.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Audit.Flush(ctx); err != nil {
		e.t.Fatalf("flush audit: %v", err)
	}
}
