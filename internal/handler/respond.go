package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/attaboy/identity/internal/domain"
)

const maxBodyBytes = 1 << 20

// RespondJSON writes a JSON response with the given status code.
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// RespondError writes a JSON error response, detecting domain.AppError for status codes.
// Rate-limited responses carry a Retry-After header in whole seconds.
func RespondError(w http.ResponseWriter, err error) {
	var appErr *domain.AppError
	if errors.As(err, &appErr) {
		if appErr.RetryAfter > 0 {
			secs := int(appErr.RetryAfter.Seconds())
			if float64(secs) < appErr.RetryAfter.Seconds() {
				secs++
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
		RespondJSON(w, appErr.Status, map[string]string{
			"code":    appErr.Code,
			"message": appErr.Message,
		})
		return
	}
	RespondJSON(w, http.StatusInternalServerError, map[string]string{
		"code":    domain.CodeInternal,
		"message": "internal server error",
	})
}

// DecodeJSON reads and decodes a JSON request body into dst. Bodies over 1 MiB are rejected.
func DecodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes)).Decode(dst)
}

func respondBadBody(w http.ResponseWriter) {
	RespondJSON(w, http.StatusBadRequest, map[string]string{
		"code":    domain.CodeValidation,
		"message": "invalid request body",
	})
}
