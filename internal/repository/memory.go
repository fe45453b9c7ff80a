package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/attaboy/identity/internal/domain"
	"github.com/google/uuid"
)

// MemoryStore is an in-process DirectoryStore, CredentialStore and Transactor
// for tests and the offline CLI. InTx serializes callers but does not roll back.
type MemoryStore struct {
	mu          sync.Mutex
	txMu        sync.Mutex
	accounts    map[string]*domain.Account
	attempts    []domain.LoginAttempt
	credentials []*domain.TemporaryCredential
	sessions    map[string]*domain.Session
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*domain.Account),
		sessions: make(map[string]*domain.Session),
	}
}

var (
	_ DirectoryStore  = (*MemoryStore)(nil)
	_ CredentialStore = (*MemoryStore)(nil)
	_ Transactor      = (*MemoryStore)(nil)
)

type memTxKey struct{}

func (m *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return fn(context.WithValue(ctx, memTxKey{}, true))
}

func (m *MemoryStore) FindAccountByEmail(_ context.Context, email string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[email]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (m *MemoryStore) CreateAccount(_ context.Context, a *domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[a.Email]; ok {
		return domain.ErrConflict("account already exists")
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now()
	a.CreatedAt, a.UpdatedAt = now, now
	cp := *a
	m.accounts[a.Email] = &cp
	return nil
}

func (m *MemoryStore) byID(id uuid.UUID) *domain.Account {
	for _, a := range m.accounts {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func (m *MemoryStore) UpdatePassword(_ context.Context, userID uuid.UUID, hash string, mustChange bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.byID(userID)
	if a == nil {
		return domain.ErrNotFound("account", userID.String())
	}
	a.PasswordHash = hash
	a.MustChangePassword = mustChange
	a.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) UpsertAccountRole(_ context.Context, userID uuid.UUID, role domain.Role, confidence int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.byID(userID)
	if a == nil {
		return domain.ErrNotFound("account", userID.String())
	}
	a.Role = role
	a.RoleConfidence = confidence
	a.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ListTrustedDevices(_ context.Context, email string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, a := range m.attempts {
		if a.Email == email && a.Success && a.DeviceFingerprint != "" && !seen[a.DeviceFingerprint] {
			seen[a.DeviceFingerprint] = true
			out = append(out, a.DeviceFingerprint)
		}
	}
	return out, nil
}

func (m *MemoryStore) CountRecentFailedAttempts(_ context.Context, email string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.attempts {
		if a.Email == email && !a.Success && a.AttemptedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) RecordLoginAttempt(_ context.Context, attempt domain.LoginAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, attempt)
	return nil
}

// LoginAttempts returns a copy of recorded attempts for email.
func (m *MemoryStore) LoginAttempts(email string) []domain.LoginAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.LoginAttempt
	for _, a := range m.attempts {
		if a.Email == email {
			out = append(out, a)
		}
	}
	return out
}

func (m *MemoryStore) CreateCredential(_ context.Context, c *domain.TemporaryCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	cp := *c
	m.credentials = append(m.credentials, &cp)
	return nil
}

func (m *MemoryStore) FindLatestValidCredential(_ context.Context, email string, now time.Time) (*domain.TemporaryCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *domain.TemporaryCredential
	// Later inserts win ties on CreatedAt.
	for _, c := range m.credentials {
		if c.Email != email || !c.IsValid(now) {
			continue
		}
		if latest == nil || !c.CreatedAt.Before(latest.CreatedAt) {
			latest = c
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (m *MemoryStore) ConsumeCredential(_ context.Context, id uuid.UUID, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.credentials {
		if c.ID != id {
			continue
		}
		if !c.IsValid(now) {
			return domain.ErrCredentialConsumed()
		}
		used := now
		c.IsUsed = true
		c.UsedAt = &used
		return nil
	}
	return domain.ErrCredentialConsumed()
}

func (m *MemoryStore) ListCredentials(_ context.Context, email string) ([]domain.TemporaryCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.TemporaryCredential
	for _, c := range m.credentials {
		if c.Email == email {
			out = append(out, *c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) CreateSession(_ context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	cp := *s
	m.sessions[s.SessionToken] = &cp
	return nil
}

func (m *MemoryStore) FindSessionByToken(_ context.Context, token string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[token]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}
