package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/attaboy/identity/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgDirectoryStore implements DirectoryStore using pgx.
type PgDirectoryStore struct {
	db DBTX
}

// NewPgDirectoryStore creates a new PgDirectoryStore.
func NewPgDirectoryStore(db DBTX) *PgDirectoryStore {
	return &PgDirectoryStore{db: db}
}

// FindAccountByEmail returns an account by email, or nil if not found.
func (r *PgDirectoryStore) FindAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	row := conn(ctx, r.db).QueryRow(ctx,
		`SELECT id, email, password_hash, role, role_confidence, must_change_password, created_at, updated_at
		 FROM accounts WHERE email = $1`, email)

	a := &domain.Account{}
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.Role, &a.RoleConfidence,
		&a.MustChangePassword, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	return a, nil
}

// CreateAccount inserts a new account.
func (r *PgDirectoryStore) CreateAccount(ctx context.Context, a *domain.Account) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := conn(ctx, r.db).QueryRow(ctx,
		`INSERT INTO accounts (id, email, password_hash, role, role_confidence, must_change_password)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at, updated_at`,
		a.ID, a.Email, a.PasswordHash, a.Role, a.RoleConfidence, a.MustChangePassword,
	).Scan(&a.CreatedAt, &a.UpdatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return domain.ErrConflict("account already exists")
	}
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// UpdatePassword replaces the password hash for the given account.
func (r *PgDirectoryStore) UpdatePassword(ctx context.Context, userID uuid.UUID, hash string, mustChange bool) error {
	tag, err := conn(ctx, r.db).Exec(ctx,
		`UPDATE accounts SET password_hash = $1, must_change_password = $2, updated_at = now() WHERE id = $3`,
		hash, mustChange, userID)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound("account", userID.String())
	}
	return nil
}

// UpsertAccountRole sets the account's role.
func (r *PgDirectoryStore) UpsertAccountRole(ctx context.Context, userID uuid.UUID, role domain.Role, confidence int) error {
	tag, err := conn(ctx, r.db).Exec(ctx,
		`UPDATE accounts SET role = $1, role_confidence = $2, updated_at = now() WHERE id = $3`,
		role, confidence, userID)
	if err != nil {
		return fmt.Errorf("upsert account role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound("account", userID.String())
	}
	return nil
}

// ListTrustedDevices returns device fingerprints with at least one successful login.
func (r *PgDirectoryStore) ListTrustedDevices(ctx context.Context, email string) ([]string, error) {
	rows, err := conn(ctx, r.db).Query(ctx,
		`SELECT DISTINCT device_fingerprint FROM login_attempts
		 WHERE email = $1 AND success = true AND device_fingerprint <> ''`, email)
	if err != nil {
		return nil, fmt.Errorf("list trusted devices: %w", err)
	}
	fingerprints, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan trusted devices: %w", err)
	}
	return fingerprints, nil
}

// CountRecentFailedAttempts counts failed logins since the given time.
func (r *PgDirectoryStore) CountRecentFailedAttempts(ctx context.Context, email string, since time.Time) (int, error) {
	var count int
	err := conn(ctx, r.db).QueryRow(ctx,
		`SELECT COUNT(*) FROM login_attempts
		 WHERE email = $1 AND success = false AND attempted_at > $2`,
		email, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count failed attempts: %w", err)
	}
	return count, nil
}

// RecordLoginAttempt inserts a login attempt row.
func (r *PgDirectoryStore) RecordLoginAttempt(ctx context.Context, a domain.LoginAttempt) error {
	_, err := conn(ctx, r.db).Exec(ctx,
		`INSERT INTO login_attempts (email, ip_address, device_fingerprint, success, reason, attempted_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.Email, a.IPAddress, a.DeviceFingerprint, a.Success, a.Reason, a.AttemptedAt)
	if err != nil {
		return fmt.Errorf("record login attempt: %w", err)
	}
	return nil
}
