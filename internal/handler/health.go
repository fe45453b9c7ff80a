package handler

import (
	"context"
	"net/http"
	"time"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// HealthHandler reports healthy only when every named check passes.
func HealthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		failures := make(map[string]string)
		for name, check := range checks {
			if err := check(ctx); err != nil {
				failures[name] = err.Error()
			}
		}

		if len(failures) > 0 {
			RespondJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "unhealthy",
				"errors": failures,
			})
			return
		}
		RespondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}
