package infra

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Rate limiter backends.
const (
	LimiterBackendMemory = "memory"
	LimiterBackendRedis  = "redis"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL"`
	PGHost      string `env:"PGHOST" envDefault:"localhost"`
	PGPort      int    `env:"PGPORT" envDefault:"5435"`
	PGUser      string `env:"PGUSER" envDefault:"identity"`
	PGPassword  string `env:"PGPASSWORD" envDefault:"identity"`
	PGDatabase  string `env:"PGDATABASE" envDefault:"identity"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"20"`
	DBMinConns  int32  `env:"DB_MIN_CONNS" envDefault:"2"`
	// MigrationsDir overrides the db/migrations lookup from the working directory.
	MigrationsDir string `env:"MIGRATIONS_DIR"`

	// Redis
	RedisURL         string `env:"REDIS_URL" envDefault:"redis://localhost:6380"`
	RateLimitBackend string `env:"RATE_LIMIT_BACKEND" envDefault:"memory"`

	// JWT
	JWTSecret        string        `env:"JWT_SECRET" envDefault:"change-me-in-production"`
	JWTSessionExpiry time.Duration `env:"JWT_SESSION_EXPIRY" envDefault:"24h"`
	JWTServiceExpiry time.Duration `env:"JWT_SERVICE_EXPIRY" envDefault:"1h"`

	// Risk and rate limiting
	RulesFile             string        `env:"ROLE_RULES_FILE"`
	AssessmentTimeout     time.Duration `env:"ASSESSMENT_TIMEOUT" envDefault:"2s"`
	Timezone              string        `env:"BUSINESS_TIMEZONE" envDefault:"UTC"`
	RateLimitWindow       time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"15m"`
	RateLimitThreshold    int           `env:"RATE_LIMIT_EMAIL_THRESHOLD" envDefault:"5"`
	RateLimitMaxKeys      int           `env:"RATE_LIMIT_MAX_KEYS" envDefault:"100000"`
	SuspiciousIPTTL       time.Duration `env:"SUSPICIOUS_IP_TTL" envDefault:"24h"`
	CircuitFailThreshold  int           `env:"DIRECTORY_CIRCUIT_FAILURES" envDefault:"5"`
	CircuitResetTimeout   time.Duration `env:"DIRECTORY_CIRCUIT_RESET" envDefault:"30s"`
	PasswordHasher        string        `env:"PASSWORD_HASHER" envDefault:"argon2id"`
	TemporaryPasswordSize int           `env:"TEMPORARY_PASSWORD_LENGTH" envDefault:"16"`

	// HTTP
	APIPort            int     `env:"API_PORT" envDefault:"3100"`
	CORSAllowedOrigins string  `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`
	ThrottleRPS        float64 `env:"HTTP_THROTTLE_RPS" envDefault:"20"`
	ThrottleBurst      int     `env:"HTTP_THROTTLE_BURST" envDefault:"40"`
	// TrustedProxies lists the CIDRs or addresses whose X-Forwarded-For is honored.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	// Kafka
	KafkaBrokers string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaEnabled bool   `env:"KAFKA_ENABLED" envDefault:"false"`

	// AuditQueueSize bounds audit events waiting for the outbox writer.
	AuditQueueSize int `env:"AUDIT_QUEUE_SIZE" envDefault:"1024"`

	// Outbox relay
	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"2s"`
	OutboxBatchSize    int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
	// RelayMetricsPort serves /metrics and /health from the audit relay; 0 disables it.
	RelayMetricsPort int `env:"RELAY_METRICS_PORT" envDefault:"9102"`

	// Dev
	AllowInsecureDefaults bool `env:"ALLOW_INSECURE_DEFAULTS" envDefault:"false"`
}

// LoadConfig parses environment variables into a Config struct.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks for invalid settings and for insecure configuration that
// must not run in production. Set ALLOW_INSECURE_DEFAULTS=true to bypass the
// secret checks (local dev only).
func (c *Config) Validate() error {
	switch strings.ToLower(c.RateLimitBackend) {
	case LimiterBackendMemory, LimiterBackendRedis:
	default:
		return fmt.Errorf("RATE_LIMIT_BACKEND must be %q or %q, got %q", LimiterBackendMemory, LimiterBackendRedis, c.RateLimitBackend)
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}
	if c.RateLimitThreshold <= 0 {
		return fmt.Errorf("RATE_LIMIT_EMAIL_THRESHOLD must be positive")
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS must be in [0, DB_MAX_CONNS] and DB_MAX_CONNS positive")
	}
	if c.AssessmentTimeout <= 0 {
		return fmt.Errorf("ASSESSMENT_TIMEOUT must be positive")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.TrustedProxyPrefixes(); err != nil {
		return err
	}

	if c.AllowInsecureDefaults {
		return nil
	}
	if c.JWTSecret == "change-me-in-production" {
		return fmt.Errorf("JWT_SECRET is set to the insecure default; set a strong secret or set ALLOW_INSECURE_DEFAULTS=true for local dev")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET is too short (%d chars); minimum 32 characters required", len(c.JWTSecret))
	}
	return nil
}

// Location returns the business timezone used for the unusual-hours signal.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("BUSINESS_TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// TrustedProxyPrefixes parses TRUSTED_PROXIES. A bare address is taken as a
// single-host prefix.
func (c *Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, raw := range c.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if p, err := netip.ParsePrefix(raw); err == nil {
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("TRUSTED_PROXIES entry %q is not an address or CIDR", raw)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// DSN returns the PostgreSQL connection string, preferring DATABASE_URL if set.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.PGUser, c.PGPassword, c.PGHost, c.PGPort, c.PGDatabase)
}
