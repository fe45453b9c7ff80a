package service

import (
	"errors"

	"github.com/attaboy/identity/internal/domain"
)

// unavailable passes domain errors through and wraps anything else as a
// collaborator outage.
func unavailable(err error) error {
	var appErr *domain.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return domain.ErrCollaboratorUnavailable(err)
}
