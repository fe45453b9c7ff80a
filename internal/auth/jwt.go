package auth

import (
	"fmt"
	"time"

	"github.com/attaboy/identity/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Realm identifies the JWT authentication realm.
type Realm string

const (
	// RealmSession tokens are issued to people after login or activation.
	RealmSession Realm = "session"
	// RealmService tokens are minted offline by operators for automation.
	RealmService Realm = "service"
)

const tokenIssuer = "identity"

// Claims holds the custom JWT claims.
type Claims struct {
	jwt.RegisteredClaims
	Realm     Realm            `json:"realm"`
	Email     string           `json:"email,omitempty"`
	Role      domain.Role      `json:"role"`
	SessionID string           `json:"sid,omitempty"`
	RiskLevel domain.RiskLevel `json:"risk,omitempty"`
}

// TokenParams describes the subject of a new token.
type TokenParams struct {
	Realm     Realm
	SubjectID uuid.UUID
	Email     string
	Role      domain.Role
	SessionID uuid.UUID
	RiskLevel domain.RiskLevel
}

// JWTManager handles token generation and validation.
type JWTManager struct {
	secret        []byte
	sessionExpiry time.Duration
	serviceExpiry time.Duration
	now           func() time.Time
}

// NewJWTManager creates a JWT manager with realm-specific expiry durations.
func NewJWTManager(secret string, sessionExpiry, serviceExpiry time.Duration) *JWTManager {
	return &JWTManager{
		secret:        []byte(secret),
		sessionExpiry: sessionExpiry,
		serviceExpiry: serviceExpiry,
		now:           time.Now,
	}
}

// GenerateToken creates a signed JWT.
func (m *JWTManager) GenerateToken(p TokenParams) (string, error) {
	var expiry time.Duration
	switch p.Realm {
	case RealmSession:
		expiry = m.sessionExpiry
	case RealmService:
		expiry = m.serviceExpiry
	default:
		return "", fmt.Errorf("unknown realm: %s", p.Realm)
	}
	if !p.Role.Valid() {
		return "", fmt.Errorf("invalid role: %q", p.Role)
	}

	now := m.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   p.SubjectID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			ID:        uuid.New().String(),
		},
		Realm:     p.Realm,
		Email:     p.Email,
		Role:      p.Role,
		RiskLevel: p.RiskLevel,
	}
	if p.SessionID != uuid.Nil {
		claims.SessionID = p.SessionID.String()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// ValidateToken parses and validates a JWT, returning claims if valid.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}
