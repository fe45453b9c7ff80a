package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/attaboy/identity/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const credentialColumns = `id, email, role_name, role_confidence, password_hash, security_token, created_at, expires_at,
	is_used, used_at, must_change_on_login, created_by`

// PgCredentialStore implements CredentialStore using pgx.
type PgCredentialStore struct {
	db DBTX
}

// NewPgCredentialStore creates a new PgCredentialStore.
func NewPgCredentialStore(db DBTX) *PgCredentialStore {
	return &PgCredentialStore{db: db}
}

func scanCredential(row pgx.Row) (*domain.TemporaryCredential, error) {
	c := &domain.TemporaryCredential{}
	err := row.Scan(&c.ID, &c.Email, &c.RoleName, &c.RoleConfidence, &c.PasswordHash, &c.SecurityToken,
		&c.CreatedAt, &c.ExpiresAt, &c.IsUsed, &c.UsedAt, &c.MustChangeOnLogin, &c.CreatedBy)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// CreateCredential inserts a temporary credential.
func (r *PgCredentialStore) CreateCredential(ctx context.Context, c *domain.TemporaryCredential) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	_, err := conn(ctx, r.db).Exec(ctx,
		`INSERT INTO temporary_credentials (`+credentialColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID, c.Email, c.RoleName, c.RoleConfidence, c.PasswordHash, c.SecurityToken, c.CreatedAt, c.ExpiresAt,
		c.IsUsed, c.UsedAt, c.MustChangeOnLogin, c.CreatedBy)
	if err != nil {
		return fmt.Errorf("create credential: %w", err)
	}
	return nil
}

// FindLatestValidCredential returns the newest unused, unexpired credential.
func (r *PgCredentialStore) FindLatestValidCredential(ctx context.Context, email string, now time.Time) (*domain.TemporaryCredential, error) {
	row := conn(ctx, r.db).QueryRow(ctx,
		`SELECT `+credentialColumns+`
		 FROM temporary_credentials
		 WHERE email = $1 AND is_used = false AND expires_at > $2
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`, email, now)

	c, err := scanCredential(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find valid credential: %w", err)
	}
	return c, nil
}

// ConsumeCredential is a conditional update; the row-count check decides the race.
func (r *PgCredentialStore) ConsumeCredential(ctx context.Context, id uuid.UUID, now time.Time) error {
	tag, err := conn(ctx, r.db).Exec(ctx,
		`UPDATE temporary_credentials
		 SET is_used = true, used_at = $2
		 WHERE id = $1 AND is_used = false AND expires_at > $2`,
		id, now)
	if err != nil {
		return fmt.Errorf("consume credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCredentialConsumed()
	}
	return nil
}

// ListCredentials returns all credentials for email, newest first.
func (r *PgCredentialStore) ListCredentials(ctx context.Context, email string) ([]domain.TemporaryCredential, error) {
	rows, err := conn(ctx, r.db).Query(ctx,
		`SELECT `+credentialColumns+`
		 FROM temporary_credentials WHERE email = $1
		 ORDER BY created_at DESC, id DESC`, email)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []domain.TemporaryCredential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// CreateSession inserts a session.
func (r *PgCredentialStore) CreateSession(ctx context.Context, s *domain.Session) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	flags := s.SecurityFlags
	if flags == nil {
		flags = []string{}
	}
	_, err := conn(ctx, r.db).Exec(ctx,
		`INSERT INTO sessions
		   (id, user_id, session_token, device_fingerprint, ip_address, user_agent,
		    risk_level, is_trusted_device, security_flags, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.ID, s.UserID, s.SessionToken, s.DeviceFingerprint, s.IPAddress, s.UserAgent,
		s.RiskLevel, s.IsTrustedDevice, flags, s.ExpiresAt, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// FindSessionByToken returns the session for token, or nil.
func (r *PgCredentialStore) FindSessionByToken(ctx context.Context, token string) (*domain.Session, error) {
	s := &domain.Session{}
	err := conn(ctx, r.db).QueryRow(ctx,
		`SELECT id, user_id, session_token, device_fingerprint, ip_address, user_agent,
		        risk_level, is_trusted_device, security_flags, expires_at, created_at
		 FROM sessions WHERE session_token = $1`, token,
	).Scan(&s.ID, &s.UserID, &s.SessionToken, &s.DeviceFingerprint, &s.IPAddress, &s.UserAgent,
		&s.RiskLevel, &s.IsTrustedDevice, &s.SecurityFlags, &s.ExpiresAt, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	return s, nil
}
