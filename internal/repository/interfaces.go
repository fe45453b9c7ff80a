package repository

import (
	"context"
	"time"

	"github.com/attaboy/identity/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX abstracts pgx.Tx and pgxpool.Pool so repositories work with both.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Transactor runs fn in a single transaction. Stores called with the ctx
// passed to fn join that transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// DirectoryStore owns accounts and login history.
type DirectoryStore interface {
	// FindAccountByEmail returns the account, or nil if none exists.
	FindAccountByEmail(ctx context.Context, email string) (*domain.Account, error)

	// CreateAccount inserts a new account. Fails with a conflict if the email is taken.
	CreateAccount(ctx context.Context, account *domain.Account) error

	// UpdatePassword replaces the password hash for an existing account.
	UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string, mustChange bool) error

	// UpsertAccountRole sets the account's role and the confidence it was inferred with.
	UpsertAccountRole(ctx context.Context, userID uuid.UUID, role domain.Role, confidence int) error

	// ListTrustedDevices returns fingerprints of devices that completed a successful login.
	ListTrustedDevices(ctx context.Context, email string) ([]string, error)

	// CountRecentFailedAttempts counts failed logins for email since the given time.
	CountRecentFailedAttempts(ctx context.Context, email string, since time.Time) (int, error)

	// RecordLoginAttempt appends one login attempt.
	RecordLoginAttempt(ctx context.Context, attempt domain.LoginAttempt) error
}

// CredentialStore owns temporary credentials and sessions.
type CredentialStore interface {
	// CreateCredential inserts a freshly issued credential.
	CreateCredential(ctx context.Context, cred *domain.TemporaryCredential) error

	// FindLatestValidCredential returns the most recently created unused,
	// unexpired credential for email, or nil.
	FindLatestValidCredential(ctx context.Context, email string, now time.Time) (*domain.TemporaryCredential, error)

	// ConsumeCredential marks the credential used if it is still valid at now.
	// Exactly one concurrent caller succeeds; the others get ErrCredentialConsumed.
	ConsumeCredential(ctx context.Context, id uuid.UUID, now time.Time) error

	// ListCredentials returns every credential for email, newest first.
	ListCredentials(ctx context.Context, email string) ([]domain.TemporaryCredential, error)

	// CreateSession inserts a session.
	CreateSession(ctx context.Context, session *domain.Session) error

	// FindSessionByToken returns the session for an opaque token, or nil.
	FindSessionByToken(ctx context.Context, token string) (*domain.Session, error)
}

// OutboxRepository provides access to the event_outbox table.
type OutboxRepository interface {
	// Insert writes an outbox event.
	Insert(ctx context.Context, db DBTX, draft domain.OutboxDraft) error

	// FetchUnpublished returns unpublished events for the outbox poller.
	FetchUnpublished(ctx context.Context, db DBTX, limit int) ([]OutboxRecord, error)

	// MarkPublished deletes published events.
	MarkPublished(ctx context.Context, db DBTX, ids []int64) error
}
