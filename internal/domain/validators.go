package domain

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

const (
	MinPasswordLength = 12
	MaxPasswordLength = 128
)

// NormalizeEmail lowercases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SplitEmail returns the local and domain parts of a normalized address.
// It only checks the shape the inference engine depends on: exactly one
// non-empty local part and a non-empty domain around a single "@".
func SplitEmail(email string) (local, domain string, err error) {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 || strings.Count(email, "@") != 1 {
		return "", "", ErrInvalidEmailFormat(email)
	}
	return email[:at], email[at+1:], nil
}

// ValidateEmail checks if an email address is valid.
func ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format")
	}
	return nil
}

// ValidatePassword enforces the account password policy: length bounds and at
// least one upper, lower, digit and symbol character.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	if len(password) > MaxPasswordLength {
		return fmt.Errorf("password must be at most %d characters", MaxPasswordLength)
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit || !hasSymbol {
		return fmt.Errorf("password must include upper, lower, digit, and symbol characters")
	}
	return nil
}

// ValidateRole checks that a role name is supported.
func ValidateRole(role Role) error {
	if !role.Valid() {
		return fmt.Errorf("unsupported role: %s", role)
	}
	return nil
}
