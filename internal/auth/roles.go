package auth

import (
	"slices"

	"github.com/attaboy/identity/internal/domain"
)

// IssuerRoles returns the roles allowed to issue temporary credentials.
func IssuerRoles() []domain.Role {
	return []domain.Role{domain.RoleSuperAdmin, domain.RoleAdmin, domain.RoleHRManager}
}

// CanAssign reports whether an issuer may hand out target. No issuer may
// grant a role above its own.
func CanAssign(issuer, target domain.Role) bool {
	switch issuer {
	case domain.RoleSuperAdmin:
		return true
	case domain.RoleAdmin:
		return target != domain.RoleSuperAdmin
	case domain.RoleHRManager:
		return target != domain.RoleSuperAdmin && target != domain.RoleAdmin
	default:
		return false
	}
}

// IsIssuerRole reports whether role may issue temporary credentials.
func IsIssuerRole(role domain.Role) bool {
	return slices.Contains(IssuerRoles(), role)
}
