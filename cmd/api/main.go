package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/attaboy/identity/internal/app"
	"github.com/attaboy/identity/internal/audit"
	"github.com/attaboy/identity/internal/auth"
	"github.com/attaboy/identity/internal/guard"
	"github.com/attaboy/identity/internal/handler"
	"github.com/attaboy/identity/internal/infra"
	"github.com/attaboy/identity/internal/policy"
	"github.com/attaboy/identity/internal/repository"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load config
	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	trustedProxies, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		return err
	}

	// Connect to Postgres and apply migrations
	if err := infra.RunMigrations(cfg.MigrationsDir, cfg.DSN(), logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	logger.Info("connected to postgres")

	healthChecks := map[string]handler.HealthCheck{
		"postgres": func(ctx context.Context) error { return infra.HealthCheck(ctx, pool) },
	}

	// Rate limiter
	limiterCfg := guard.LimiterConfig{
		Window:         cfg.RateLimitWindow,
		EmailThreshold: cfg.RateLimitThreshold,
		SuspiciousTTL:  cfg.SuspiciousIPTTL,
		MaxKeys:        cfg.RateLimitMaxKeys,
	}
	var limiter guard.Limiter
	switch cfg.RateLimitBackend {
	case infra.LimiterBackendRedis:
		rdb, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		limiter = guard.NewRedisLimiter(rdb, limiterCfg)
		healthChecks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		logger.Info("rate limiter backend: redis")
	default:
		limiter = guard.NewMemoryLimiter(limiterCfg)
		logger.Info("rate limiter backend: memory")
	}

	// Role rules
	rules, err := loadRules(cfg.RulesFile)
	if err != nil {
		return err
	}

	hasher, err := auth.NewPasswordHasher(cfg.PasswordHasher)
	if err != nil {
		return fmt.Errorf("password hasher: %w", err)
	}

	jwtMgr := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTSessionExpiry, cfg.JWTServiceExpiry)
	metrics := infra.NewMetrics()

	// Audit events go to the outbox for the relay and to the log, off the
	// request path.
	sink := audit.NewAsyncSink(audit.MultiSink{
		audit.NewOutboxSink(pool, repository.NewOutboxRepository(), logger),
		audit.NewLogSink(logger),
	}, cfg.AuditQueueSize, logger)
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sink.Close(drainCtx); err != nil {
			logger.Warn("audit queue not drained", "error", err)
		}
		if n := sink.Dropped(); n > 0 {
			logger.Warn("audit events dropped", "count", n)
		}
	}()

	gw := app.NewGateway(app.Components{
		Directory:         repository.NewPgDirectoryStore(pool),
		Credentials:       repository.NewPgCredentialStore(pool),
		Tx:                repository.NewPgTransactor(pool),
		Limiter:           limiter,
		Audit:             sink,
		Rules:             rules,
		Hasher:            hasher,
		JWT:               jwtMgr,
		Metrics:           metrics,
		Logger:            logger,
		Breaker:           guard.NewCircuitBreaker(cfg.CircuitFailThreshold, cfg.CircuitResetTimeout),
		AssessmentTimeout: cfg.AssessmentTimeout,
		Location:          loc,
		PasswordLength:    cfg.TemporaryPasswordSize,
	})

	r := app.NewRouter(app.RouterDeps{
		Gateway:            gw,
		JWTMgr:             jwtMgr,
		Logger:             logger,
		Metrics:            metrics,
		Idempotency:        guard.NewIdempotencyGuard(guard.DefaultIdempotencyEntries, guard.DefaultIdempotencyTTL),
		HealthChecks:       healthChecks,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		ThrottleRPS:        cfg.ThrottleRPS,
		ThrottleBurst:      cfg.ThrottleBurst,
		TrustedProxies:     trustedProxies,
	})

	// Start server
	addr := fmt.Sprintf(":%d", cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	// Shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}

func loadRules(path string) (*policy.RuleSet, error) {
	if path == "" {
		return policy.DefaultRuleSet()
	}
	rules, err := policy.LoadRuleSetFile(path)
	if err != nil {
		return nil, fmt.Errorf("load role rules: %w", err)
	}
	return rules, nil
}
