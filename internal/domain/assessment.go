package domain

import "time"

// RiskLevel classifies login risk. Levels are totally ordered.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Severity returns the ordinal of the level; unknown levels rank as low.
func (l RiskLevel) Severity() int {
	switch l {
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	default:
		return 0
	}
}

// Max returns the more severe of l and other.
func (l RiskLevel) Max(other RiskLevel) RiskLevel {
	if other.Severity() > l.Severity() {
		return other
	}
	return l
}

// Risk factors raised by the assessment engine.
const (
	FactorRateLimitExceeded      = "rate_limit_exceeded"
	FactorSuspiciousIP           = "suspicious_ip"
	FactorMultipleFailedAttempts = "multiple_failed_attempts"
	FactorUnusualTime            = "unusual_time"
	FactorUnknownDevice          = "unknown_device"
	FactorAssessmentFailed       = "assessment_failed"
)

// SecurityAssessment is the aggregated risk verdict for one login attempt.
type SecurityAssessment struct {
	RiskLevel                      RiskLevel     `json:"risk_level"`
	RiskFactors                    []string      `json:"risk_factors"`
	Recommendations                []string      `json:"recommendations"`
	AllowLogin                     bool          `json:"allow_login"`
	RequiresAdditionalVerification bool          `json:"requires_additional_verification"`
	RetryAfter                     time.Duration `json:"retry_after,omitempty"`
	KnownDevice                    bool          `json:"known_device"`
	AssessedAt                     time.Time     `json:"assessed_at"`
}

// HasFactor reports whether the assessment raised the given factor.
func (a SecurityAssessment) HasFactor(factor string) bool {
	for _, f := range a.RiskFactors {
		if f == factor {
			return true
		}
	}
	return false
}
