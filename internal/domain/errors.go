package domain

import (
	"errors"
	"fmt"
	"time"
)

// AppError is the base domain error type.
type AppError struct {
	Code       string        `json:"code"`
	Message    string        `json:"message"`
	Status     int           `json:"-"`
	RetryAfter time.Duration `json:"-"`
	Cause      error         `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// Error codes surfaced to callers.
const (
	CodeNotFound                = "NOT_FOUND"
	CodeConflict                = "CONFLICT"
	CodeValidation              = "VALIDATION_ERROR"
	CodeUnauthorized            = "UNAUTHORIZED"
	CodeForbidden               = "FORBIDDEN"
	CodeInvalidEmailFormat      = "INVALID_EMAIL_FORMAT"
	CodeNoValidCredential       = "NO_VALID_CREDENTIAL"
	CodeInvalidCredential       = "INVALID_CREDENTIAL"
	CodeCredentialConsumed      = "CREDENTIAL_ALREADY_CONSUMED"
	CodeRateLimited             = "RATE_LIMITED"
	CodeLoginBlocked            = "LOGIN_BLOCKED"
	CodeAssessmentUnavailable   = "ASSESSMENT_UNAVAILABLE"
	CodeCollaboratorUnavailable = "COLLABORATOR_UNAVAILABLE"
	CodeInternal                = "INTERNAL_ERROR"
)

// IsCode reports whether err is an AppError carrying the given code.
func IsCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Standard domain error constructors.

func ErrNotFound(entity, id string) *AppError {
	return &AppError{Code: CodeNotFound, Message: fmt.Sprintf("%s %s not found", entity, id), Status: 404}
}

func ErrConflict(msg string) *AppError {
	return &AppError{Code: CodeConflict, Message: msg, Status: 409}
}

func ErrValidation(msg string) *AppError {
	return &AppError{Code: CodeValidation, Message: msg, Status: 400}
}

func ErrUnauthorized(msg string) *AppError {
	return &AppError{Code: CodeUnauthorized, Message: msg, Status: 401}
}

func ErrForbidden(msg string) *AppError {
	return &AppError{Code: CodeForbidden, Message: msg, Status: 403}
}

func ErrInvalidEmailFormat(email string) *AppError {
	return &AppError{Code: CodeInvalidEmailFormat, Message: fmt.Sprintf("invalid email format: %q", email), Status: 400}
}

func ErrNoValidCredential() *AppError {
	return &AppError{Code: CodeNoValidCredential, Message: "no valid temporary credential for this account", Status: 401}
}

func ErrInvalidCredential() *AppError {
	return &AppError{Code: CodeInvalidCredential, Message: "invalid credentials", Status: 401}
}

// ErrCredentialConsumed is returned to the loser of a concurrent consume race.
func ErrCredentialConsumed() *AppError {
	return &AppError{Code: CodeCredentialConsumed, Message: "temporary credential has already been used", Status: 409}
}

// ErrRateLimited carries the remaining wait so callers can surface it.
func ErrRateLimited(retryAfter time.Duration) *AppError {
	if retryAfter < 0 {
		retryAfter = 0
	}
	return &AppError{
		Code:       CodeRateLimited,
		Message:    fmt.Sprintf("too many attempts, try again in %s", retryAfter.Round(time.Second)),
		Status:     429,
		RetryAfter: retryAfter,
	}
}

func ErrLoginBlocked(msg string) *AppError {
	return &AppError{Code: CodeLoginBlocked, Message: msg, Status: 403}
}

func ErrAssessmentUnavailable(cause error) *AppError {
	return &AppError{Code: CodeAssessmentUnavailable, Message: "risk assessment unavailable", Status: 503, Cause: cause}
}

// ErrCollaboratorUnavailable hides the cause from the message; it is only logged.
func ErrCollaboratorUnavailable(cause error) *AppError {
	return &AppError{Code: CodeCollaboratorUnavailable, Message: "service temporarily unavailable", Status: 503, Cause: cause}
}

func ErrInternal(msg string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: msg, Status: 500, Cause: cause}
}
