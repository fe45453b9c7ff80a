package domain

// Role is an access role that can be granted to an account.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleHRManager  Role = "hr_manager"
	RoleManager    Role = "manager"
	RoleTeamLead   Role = "team_lead"
	RoleEmployee   Role = "employee"
	RoleContractor Role = "contractor"
	RoleIntern     Role = "intern"
)

// AllRoles returns every supported role, most privileged first.
func AllRoles() []Role {
	return []Role{
		RoleSuperAdmin, RoleAdmin, RoleHRManager, RoleManager,
		RoleTeamLead, RoleEmployee, RoleContractor, RoleIntern,
	}
}

// Valid reports whether r is a supported role.
func (r Role) Valid() bool {
	for _, known := range AllRoles() {
		if r == known {
			return true
		}
	}
	return false
}

// RoleInferenceResult is the outcome of inferring a role from an email address.
type RoleInferenceResult struct {
	SuggestedRole    Role         `json:"suggested_role"`
	Confidence       int          `json:"confidence"`
	MatchedRule      *MatchedRule `json:"matched_rule,omitempty"`
	RequiresApproval bool         `json:"requires_approval"`
	AlternativeRoles []Role       `json:"alternative_roles"`
	SecurityFlags    []string     `json:"security_flags"`
}

// MatchedRule describes the catalog rule that won inference.
type MatchedRule struct {
	Pattern          string `json:"pattern"`
	Role             Role   `json:"role"`
	Priority         int    `json:"priority"`
	Description      string `json:"description"`
	RequiresApproval bool   `json:"requires_approval"`
}

// Security flags attached to inference results.
const (
	FlagNumericSequence     = "numeric_sequence"
	FlagTestAccountPattern  = "test_account_pattern"
	FlagShortLocalPart      = "short_local_part"
	FlagPersonalEmailDomain = "personal_email_domain"
	FlagUnknownPattern      = "unknown_pattern"
)
