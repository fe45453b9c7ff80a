package policy

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/attaboy/identity/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultCatalog []byte

// RoleRule maps an email pattern to a role. Rules are immutable once loaded.
type RoleRule struct {
	Pattern          string      `yaml:"pattern"`
	Role             domain.Role `yaml:"role"`
	Priority         int         `yaml:"priority"`
	Description      string      `yaml:"description"`
	RequiresApproval bool        `yaml:"requires_approval"`

	re *regexp.Regexp
}

// Matches reports whether the rule's pattern matches the normalized email.
func (r RoleRule) Matches(email string) bool {
	return r.re != nil && r.re.MatchString(email)
}

// IsWildcard reports whether the pattern contains a broad ".*" wildcard.
func (r RoleRule) IsWildcard() bool {
	return strings.Contains(r.Pattern, ".*")
}

func (r RoleRule) summary() *domain.MatchedRule {
	return &domain.MatchedRule{
		Pattern:          r.Pattern,
		Role:             r.Role,
		Priority:         r.Priority,
		Description:      r.Description,
		RequiresApproval: r.RequiresApproval,
	}
}

// Catalog is the serialized form of a rule set.
type Catalog struct {
	Domains         map[string]domain.Role   `yaml:"domains"`
	Rules           []RoleRule               `yaml:"rules"`
	Keywords        map[domain.Role][]string `yaml:"keywords"`
	PersonalDomains []string                 `yaml:"personal_domains"`
}

// RuleSet is an ordered, immutable rule catalog plus the exact domain table.
// It is safe for concurrent use.
type RuleSet struct {
	rules    []RoleRule
	domains  map[string]domain.Role
	keywords map[domain.Role][]string
	personal map[string]struct{}
}

// NewRuleSet validates and compiles a catalog.
func NewRuleSet(c Catalog) (*RuleSet, error) {
	if len(c.Rules) == 0 {
		return nil, fmt.Errorf("rule catalog has no rules")
	}

	rs := &RuleSet{
		rules:    make([]RoleRule, 0, len(c.Rules)),
		domains:  make(map[string]domain.Role, len(c.Domains)),
		keywords: make(map[domain.Role][]string, len(c.Keywords)),
		personal: make(map[string]struct{}, len(c.PersonalDomains)),
	}

	for i, rule := range c.Rules {
		if err := domain.ValidateRole(rule.Role); err != nil {
			return nil, fmt.Errorf("rule %d (%q): %w", i, rule.Pattern, err)
		}
		if rule.Priority < 0 || rule.Priority > 100 {
			return nil, fmt.Errorf("rule %d (%q): priority %d outside [0,100]", i, rule.Pattern, rule.Priority)
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %d: compile %q: %w", i, rule.Pattern, err)
		}
		rule.re = re
		rs.rules = append(rs.rules, rule)
	}

	for d, role := range c.Domains {
		if err := domain.ValidateRole(role); err != nil {
			return nil, fmt.Errorf("domain %q: %w", d, err)
		}
		rs.domains[domain.NormalizeEmail(d)] = role
	}

	for role, words := range c.Keywords {
		if err := domain.ValidateRole(role); err != nil {
			return nil, fmt.Errorf("keywords: %w", err)
		}
		lowered := make([]string, 0, len(words))
		for _, w := range words {
			if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
				lowered = append(lowered, w)
			}
		}
		rs.keywords[role] = lowered
	}

	for _, d := range c.PersonalDomains {
		rs.personal[domain.NormalizeEmail(d)] = struct{}{}
	}

	return rs, nil
}

// ParseRuleSet parses a YAML catalog.
func ParseRuleSet(data []byte) (*RuleSet, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse rule catalog: %w", err)
	}
	return NewRuleSet(c)
}

// LoadRuleSetFile reads a YAML catalog from disk, e.g. a per-tenant override.
func LoadRuleSetFile(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule catalog: %w", err)
	}
	return ParseRuleSet(data)
}

// DefaultRuleSet returns the built-in catalog.
func DefaultRuleSet() (*RuleSet, error) {
	return ParseRuleSet(defaultCatalog)
}

// MustDefaultRuleSet is DefaultRuleSet for wiring and tests; the embedded catalog is always valid.
func MustDefaultRuleSet() *RuleSet {
	rs, err := DefaultRuleSet()
	if err != nil {
		panic(err)
	}
	return rs
}

// Rules returns a copy of the ordered rules.
func (rs *RuleSet) Rules() []RoleRule {
	out := make([]RoleRule, len(rs.rules))
	copy(out, rs.rules)
	return out
}

// DomainRole returns the exact-match role for a domain.
func (rs *RuleSet) DomainRole(d string) (domain.Role, bool) {
	role, ok := rs.domains[d]
	return role, ok
}

// IsPersonalDomain reports whether the domain is a public webmail provider.
func (rs *RuleSet) IsPersonalDomain(d string) bool {
	_, ok := rs.personal[d]
	return ok
}

// literalText strips regex syntax from a pattern, leaving the literal text a
// domain may contain. Bare dots survive unless they quantify (".*", ".+", ".?").
func literalText(pattern string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch c {
		case '\\':
			if i+1 < len(pattern) {
				next := pattern[i+1]
				i++
				if strings.IndexByte(`.-@_+()[]{}^$|*?\/`, next) >= 0 {
					b.WriteByte(next)
				}
			}
		case '.':
			if i+1 < len(pattern) && strings.IndexByte("*+?", pattern[i+1]) >= 0 {
				i++
				continue
			}
			b.WriteByte(c)
		case '^', '$', '*', '+', '?', '(', ')', '[', ']', '{', '}', '|':
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
