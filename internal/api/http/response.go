// internal/api/http/response.go
package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"cron-engine/internal/domain"
	"cron-engine/internal/worker"

	"github.com/go-playground/validator/v10"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidSchedule),
		errors.Is(err, domain.ErrInvalidTrigger),
		errors.Is(err, domain.ErrInvalidJob):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, worker.ErrEngineClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "internal server error"
	}
	writeJSON(w, code, ErrorResponse{Error: msg})
}

func writeValidationError(w http.ResponseWriter, err error) {
	var details []string
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			details = append(details, "Field '"+fe.Field()+"' failed on the '"+fe.Tag()+"' tag.")
		}
	} else {
		details = append(details, err.Error())
	}
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation failed", Details: details})
}
