package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Hashing algorithms accepted by NewPasswordHasher.
const (
	AlgorithmArgon2id = "argon2id"
	AlgorithmBcrypt   = "bcrypt"
)

// ErrUnknownHashFormat is returned when a stored hash was produced by no supported algorithm.
var ErrUnknownHashFormat = errors.New("unknown password hash format")

// Argon2Params tunes argon2id. Defaults follow the RFC 9106 second recommendation.
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Params returns 64 MiB, 3 passes, 2 lanes.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{Memory: 64 * 1024, Iterations: 3, Parallelism: 2, SaltLength: 16, KeyLength: 32}
}

// PasswordHasher hashes new passwords with one algorithm and verifies hashes
// from any supported algorithm, so switching algorithms keeps old hashes usable.
type PasswordHasher struct {
	algorithm  string
	argon2     Argon2Params
	bcryptCost int

	absentOnce sync.Once
	absentHash string
}

// absentPassword is hashed once to give VerifyAbsent something to compare against.
const absentPassword = "no-account-placeholder"

// NewPasswordHasher returns a hasher for the named algorithm.
func NewPasswordHasher(algorithm string) (*PasswordHasher, error) {
	h := &PasswordHasher{argon2: DefaultArgon2Params(), bcryptCost: bcrypt.DefaultCost}
	switch strings.ToLower(algorithm) {
	case "", AlgorithmArgon2id:
		h.algorithm = AlgorithmArgon2id
	case AlgorithmBcrypt:
		h.algorithm = AlgorithmBcrypt
	default:
		return nil, fmt.Errorf("unsupported password hasher %q", algorithm)
	}
	return h, nil
}

// WithArgon2Params overrides the argon2id cost parameters.
func (h *PasswordHasher) WithArgon2Params(p Argon2Params) *PasswordHasher {
	h.argon2 = p
	h.absentOnce = sync.Once{}
	return h
}

// WithBcryptCost overrides the bcrypt cost.
func (h *PasswordHasher) WithBcryptCost(cost int) *PasswordHasher {
	h.bcryptCost = cost
	h.absentOnce = sync.Once{}
	return h
}

// Algorithm returns the algorithm used for new hashes.
func (h *PasswordHasher) Algorithm() string { return h.algorithm }

// Hash returns an encoded one-way hash of password.
func (h *PasswordHasher) Hash(password string) (string, error) {
	if h.algorithm == AlgorithmBcrypt {
		out, err := bcrypt.GenerateFromPassword([]byte(password), h.bcryptCost)
		if err != nil {
			return "", fmt.Errorf("bcrypt hash: %w", err)
		}
		return string(out), nil
	}

	p := h.argon2
	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Iterations, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify compares password against an encoded hash in constant time.
func (h *PasswordHasher) Verify(encoded, password string) (bool, error) {
	switch {
	case strings.HasPrefix(encoded, "$argon2id$"):
		return verifyArgon2id(encoded, password)
	case strings.HasPrefix(encoded, "$2a$"), strings.HasPrefix(encoded, "$2b$"), strings.HasPrefix(encoded, "$2y$"):
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("bcrypt verify: %w", err)
		}
		return true, nil
	default:
		return false, ErrUnknownHashFormat
	}
}

// VerifyAbsent spends one verification of password against a hash made with
// the current settings. The result is discarded.
func (h *PasswordHasher) VerifyAbsent(password string) {
	h.absentOnce.Do(func() {
		h.absentHash, _ = h.Hash(absentPassword)
	})
	if h.absentHash == "" {
		return
	}
	_, _ = h.Verify(h.absentHash, password)
}

func verifyArgon2id(encoded, password string) (bool, error) {
	parts := strings.Split(encoded, "$")
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	if len(parts) != 6 {
		return false, ErrUnknownHashFormat
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false, fmt.Errorf("argon2 version: %w", ErrUnknownHashFormat)
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false, fmt.Errorf("argon2 params: %w", ErrUnknownHashFormat)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("argon2 salt: %w", ErrUnknownHashFormat)
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return false, fmt.Errorf("argon2 key: %w", ErrUnknownHashFormat)
	}

	got := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
