package policy

import (
	"fmt"
	"time"

	"github.com/attaboy/identity/internal/domain"
)

const (
	// FailedAttemptThreshold is the failed-login count within FailedAttemptLookback that raises risk.
	FailedAttemptThreshold = 5
	FailedAttemptLookback  = time.Hour

	// Login hours outside [BusinessHourStart, BusinessHourEnd] are unusual.
	BusinessHourStart = 6
	BusinessHourEnd   = 22
)

// LoginRiskSignals holds the raw inputs for one login risk evaluation.
type LoginRiskSignals struct {
	RateLimited      bool          `json:"rate_limited"`
	RetryAfter       time.Duration `json:"retry_after"`
	SuspiciousOrigin bool          `json:"suspicious_origin"`
	RecentFailures   int           `json:"recent_failures"`
	LocalHour        int           `json:"local_hour"`
	TrustedDevices   int           `json:"trusted_devices"`
	KnownDevice      bool          `json:"known_device"`
}

// EvaluateLoginRisk aggregates signals into a verdict. Each signal can only
// raise the level; the result is the maximum severity across signals.
func EvaluateLoginRisk(signals LoginRiskSignals) domain.SecurityAssessment {
	level := domain.RiskLow
	var factors, recs []string

	if signals.RateLimited {
		level = level.Max(domain.RiskHigh)
		factors = append(factors, domain.FactorRateLimitExceeded)
		recs = append(recs, fmt.Sprintf("Too many attempts, wait %s before retrying", signals.RetryAfter.Round(time.Second)))
	}

	if signals.SuspiciousOrigin {
		if level.Severity() >= domain.RiskMedium.Severity() {
			level = level.Max(domain.RiskHigh)
		} else {
			level = level.Max(domain.RiskMedium)
		}
		factors = append(factors, domain.FactorSuspiciousIP)
		recs = append(recs, "Login originates from a network flagged for excessive attempts")
	}

	if signals.RecentFailures >= FailedAttemptThreshold {
		level = level.Max(domain.RiskHigh)
		factors = append(factors, domain.FactorMultipleFailedAttempts)
		recs = append(recs, "Multiple failed attempts in the last hour, verify the account owner")
	}

	if signals.LocalHour < BusinessHourStart || signals.LocalHour > BusinessHourEnd {
		level = level.Max(domain.RiskMedium)
		factors = append(factors, domain.FactorUnusualTime)
		recs = append(recs, "Login outside usual hours")
	}

	if signals.TrustedDevices > 0 && !signals.KnownDevice {
		level = level.Max(domain.RiskMedium)
		factors = append(factors, domain.FactorUnknownDevice)
		recs = append(recs, "New device, confirm via a second factor")
	}

	// Brute force from a flagged origin is treated as an active attack.
	if signals.SuspiciousOrigin && signals.RecentFailures >= FailedAttemptThreshold {
		level = level.Max(domain.RiskCritical)
	}

	if factors == nil {
		factors = []string{}
	}
	if recs == nil {
		recs = []string{}
	}

	return domain.SecurityAssessment{
		RiskLevel:                      level,
		RiskFactors:                    factors,
		Recommendations:                recs,
		AllowLogin:                     level != domain.RiskCritical && !signals.RateLimited,
		RequiresAdditionalVerification: level.Severity() >= domain.RiskHigh.Severity(),
		RetryAfter:                     signals.RetryAfter,
		KnownDevice:                    signals.KnownDevice,
	}
}

// FailSafeAssessment is returned when any signal lookup fails. Login proceeds
// but always with extra verification; a failed assessment is never low risk.
func FailSafeAssessment() domain.SecurityAssessment {
	return domain.SecurityAssessment{
		RiskLevel:                      domain.RiskHigh,
		RiskFactors:                    []string{domain.FactorAssessmentFailed},
		Recommendations:                []string{"Risk signals unavailable, require additional verification"},
		AllowLogin:                     true,
		RequiresAdditionalVerification: true,
	}
}
