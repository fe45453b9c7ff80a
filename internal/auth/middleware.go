package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/attaboy/identity/internal/domain"
)

type contextKey string

const (
	claimsKey  contextKey = "auth_claims"
	subjectKey contextKey = "auth_subject"
)

var (
	errMissingBearer = errors.New("missing Authorization header")
	errBadBearer     = errors.New("invalid Authorization format")
)

// ClaimsFromContext extracts JWT claims from request context.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey).(*Claims)
	return claims
}

// SubjectFromContext extracts the subject ID string from request context.
func SubjectFromContext(ctx context.Context) string {
	sub, _ := ctx.Value(subjectKey).(string)
	return sub
}

// WithClaims returns a context carrying claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	ctx = context.WithValue(ctx, claimsKey, claims)
	return context.WithValue(ctx, subjectKey, claims.Subject)
}

// Authenticate returns middleware that validates bearer tokens. With no
// realms every realm is accepted.
func Authenticate(jwtMgr *JWTManager, realms ...Realm) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := extractAndValidate(r, jwtMgr)
			if err != nil {
				writeAuthError(w, domain.ErrUnauthorized("invalid or missing bearer token"))
				return
			}
			if len(realms) > 0 && !slices.Contains(realms, claims.Realm) {
				writeAuthError(w, domain.ErrUnauthorized("token realm not accepted here"))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireRole returns middleware that checks the caller's role.
func RequireRole(roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				writeAuthError(w, domain.ErrUnauthorized("no auth context"))
				return
			}
			if !slices.Contains(roles, claims.Role) {
				writeAuthError(w, domain.ErrForbidden("insufficient role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RejectElevatedRisk refuses session tokens whose login was assessed high or
// critical. Service tokens carry no risk level and pass.
func RejectElevatedRisk() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims != nil && claims.Realm == RealmSession &&
				claims.RiskLevel.Severity() >= domain.RiskHigh.Severity() {
				writeAuthError(w, domain.ErrForbidden("session requires additional verification"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeAuthError(w http.ResponseWriter, e *domain.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(e)
}

func extractAndValidate(r *http.Request, jwtMgr *JWTManager) (*Claims, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, errMissingBearer
	}

	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return nil, errBadBearer
	}

	return jwtMgr.ValidateToken(token)
}
