package policy

import (
	"regexp"
	"sort"
	"strings"

	"github.com/attaboy/identity/internal/domain"
)

const (
	domainMatchConfidence  = 95
	fallbackConfidence     = 50
	approvalThreshold      = 80
	literalDomainBonus     = 20
	wildcardPenalty        = 10
	keywordBonus           = 5
	alternativeMinPriority = 40
	maxAlternativeRoles    = 3
	minLocalPartLength     = 3
)

var (
	numericSequence = regexp.MustCompile(`[0-9]{4,}`)
	testMarkers     = []string{"test", "temp", "demo", "fake"}
)

// InferRole suggests a role for an email address.
//
// An exact domain-table hit always wins with confidence 95. Otherwise every
// rule is evaluated and the highest priority match wins, ties going to the
// earlier rule. The result is a pure function of the email and the rule set.
func (rs *RuleSet) InferRole(email string) (domain.RoleInferenceResult, error) {
	normalized := domain.NormalizeEmail(email)
	local, host, err := domain.SplitEmail(normalized)
	if err != nil {
		return domain.RoleInferenceResult{}, err
	}

	flags := rs.securityFlags(local, host)

	if role, ok := rs.DomainRole(host); ok {
		return domain.RoleInferenceResult{
			SuggestedRole:    role,
			Confidence:       domainMatchConfidence,
			RequiresApproval: false,
			AlternativeRoles: []domain.Role{},
			SecurityFlags:    flags,
		}, nil
	}

	var matched []RoleRule
	for _, rule := range rs.rules {
		if rule.Matches(normalized) {
			matched = append(matched, rule)
		}
	}

	if len(matched) == 0 {
		return domain.RoleInferenceResult{
			SuggestedRole:    domain.RoleEmployee,
			Confidence:       fallbackConfidence,
			RequiresApproval: true,
			AlternativeRoles: []domain.Role{},
			SecurityFlags:    append(flags, domain.FlagUnknownPattern),
		}, nil
	}

	// Stable sort keeps catalog order among equal priorities.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority > matched[j].Priority
	})
	winner := matched[0]
	confidence := rs.confidence(winner, local, host)

	return domain.RoleInferenceResult{
		SuggestedRole:    winner.Role,
		Confidence:       confidence,
		MatchedRule:      winner.summary(),
		RequiresApproval: winner.RequiresApproval || confidence < approvalThreshold,
		AlternativeRoles: alternatives(matched[1:], winner.Role),
		SecurityFlags:    flags,
	}, nil
}

func (rs *RuleSet) confidence(rule RoleRule, local, host string) int {
	score := rule.Priority

	if lit := literalText(rule.Pattern); lit != "" && strings.Contains(host, lit) {
		score += literalDomainBonus
	}
	if rule.IsWildcard() {
		score -= wildcardPenalty
	}
	for _, kw := range rs.keywords[rule.Role] {
		if strings.Contains(local, kw) {
			score += keywordBonus
		}
	}

	return clamp(score, 0, 100)
}

func alternatives(matched []RoleRule, winner domain.Role) []domain.Role {
	out := make([]domain.Role, 0, maxAlternativeRoles)
	seen := map[domain.Role]bool{winner: true}
	for _, rule := range matched {
		if len(out) == maxAlternativeRoles {
			break
		}
		if rule.Priority <= alternativeMinPriority || seen[rule.Role] {
			continue
		}
		seen[rule.Role] = true
		out = append(out, rule.Role)
	}
	return out
}

func (rs *RuleSet) securityFlags(local, host string) []string {
	flags := []string{}
	if numericSequence.MatchString(local) {
		flags = append(flags, domain.FlagNumericSequence)
	}
	for _, marker := range testMarkers {
		if strings.Contains(local, marker) {
			flags = append(flags, domain.FlagTestAccountPattern)
			break
		}
	}
	if len(local) < minLocalPartLength {
		flags = append(flags, domain.FlagShortLocalPart)
	}
	if rs.IsPersonalDomain(host) {
		flags = append(flags, domain.FlagPersonalEmailDomain)
	}
	return flags
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
