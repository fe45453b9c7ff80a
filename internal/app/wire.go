package app

import (
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/attaboy/identity/internal/audit"
	"github.com/attaboy/identity/internal/auth"
	"github.com/attaboy/identity/internal/guard"
	"github.com/attaboy/identity/internal/handler"
	"github.com/attaboy/identity/internal/infra"
	"github.com/attaboy/identity/internal/policy"
	"github.com/attaboy/identity/internal/repository"
	"github.com/attaboy/identity/internal/service"
)

// Components holds the collaborators the identity services are built from.
// The same wiring backs the API server, the CLI and tests; only the stores
// and limiter differ.
type Components struct {
	Directory   repository.DirectoryStore
	Credentials repository.CredentialStore
	Tx          repository.Transactor
	Limiter     guard.Limiter
	Audit       audit.Sink
	Rules       *policy.RuleSet
	Hasher      *auth.PasswordHasher
	Generator   *auth.Generator
	JWT         *auth.JWTManager
	Metrics     *infra.Metrics
	Logger      *slog.Logger
	Clock       func() time.Time

	Breaker           *guard.CircuitBreaker
	AssessmentTimeout time.Duration
	Location          *time.Location
	PasswordLength    int
}

// NewGateway assembles the risk assessor, credential manager and session
// issuer behind one Gateway.
func NewGateway(c Components) *service.Gateway {
	risk := service.NewRiskAssessor(service.RiskAssessorDeps{
		Limiter:   c.Limiter,
		Directory: c.Directory,
		Breaker:   c.Breaker,
		Audit:     c.Audit,
		Metrics:   c.Metrics,
		Logger:    c.Logger,
		Clock:     c.Clock,
		Timeout:   c.AssessmentTimeout,
		Location:  c.Location,
	})
	creds := service.NewCredentialManager(service.CredentialManagerDeps{
		Credentials:    c.Credentials,
		Directory:      c.Directory,
		Tx:             c.Tx,
		Limiter:        c.Limiter,
		Hasher:         c.Hasher,
		Generator:      c.Generator,
		Audit:          c.Audit,
		Metrics:        c.Metrics,
		Logger:         c.Logger,
		Clock:          c.Clock,
		PasswordLength: c.PasswordLength,
	})
	sessions := service.NewSessionIssuer(c.Credentials, c.Generator, c.Audit, c.Metrics, c.Clock)

	return service.NewGateway(service.GatewayDeps{
		Rules:       c.Rules,
		Risk:        risk,
		Credentials: creds,
		Sessions:    sessions,
		Directory:   c.Directory,
		Limiter:     c.Limiter,
		Hasher:      c.Hasher,
		JWT:         c.JWT,
		Audit:       c.Audit,
		Metrics:     c.Metrics,
		Logger:      c.Logger,
		Clock:       c.Clock,
	})
}

// RouterDeps holds all dependencies needed by NewRouter.
type RouterDeps struct {
	Gateway      *service.Gateway
	JWTMgr       *auth.JWTManager
	Logger       *slog.Logger
	Metrics      *infra.Metrics
	Idempotency  *guard.IdempotencyGuard
	HealthChecks map[string]handler.HealthCheck

	CORSAllowedOrigins string
	ThrottleRPS        float64
	ThrottleBurst      int
	// TrustedProxies are the peers whose X-Forwarded-For names the client.
	TrustedProxies []netip.Prefix
}

// NewRouter assembles the chi.Router with all routes and middleware.
func NewRouter(deps RouterDeps) chi.Router {
	logger := deps.Logger
	if deps.Idempotency == nil {
		deps.Idempotency = guard.NewIdempotencyGuard(0, 0)
	}
	if deps.CORSAllowedOrigins == "" {
		deps.CORSAllowedOrigins = "*"
	}

	// Handlers
	authHandler := handler.NewAuthHandler(deps.Gateway)
	roleHandler := handler.NewRoleHandler(deps.Gateway)
	credentialHandler := handler.NewCredentialHandler(deps.Gateway, deps.Idempotency, logger)

	// Router
	r := chi.NewRouter()

	// Global middleware (order matters)
	r.Use(handler.Recovery(logger))
	r.Use(handler.RequestID)
	r.Use(handler.ForwardedFor(deps.TrustedProxies))
	r.Use(handler.RequestLogger(logger))
	r.Use(deps.Metrics.Instrument)
	r.Use(handler.CORSWithOrigins(deps.CORSAllowedOrigins))

	// Health and metrics (no auth)
	r.Get("/health", handler.HealthHandler(deps.HealthChecks))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(handler.JSONContentType)
		r.Use(handler.Throttle(deps.ThrottleRPS, deps.ThrottleBurst))

		r.Route("/roles", func(r chi.Router) {
			r.Post("/infer", roleHandler.Infer)
			r.Get("/rules", roleHandler.Rules)
		})

		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", authHandler.Login)
			r.Post("/activate", authHandler.Activate)
			r.Get("/session", authHandler.Session)
		})

		// Issuer-authenticated routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.Authenticate(deps.JWTMgr, auth.RealmService, auth.RealmSession))
			r.Use(auth.RequireRole(auth.IssuerRoles()...))
			r.Use(auth.RejectElevatedRisk())

			r.Post("/credentials", credentialHandler.Issue)
			r.Get("/credentials", credentialHandler.History)
		})
	})

	return r
}
