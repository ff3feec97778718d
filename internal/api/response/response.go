package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Rrens/lean-coffee/internal/domain"
	"github.com/rs/zerolog/log"
)

// Response represents a standard API response for non-command endpoints
type Response struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
	Error   any  `json:"error,omitempty"`
}

func write(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}

// JSON sends a JSON response
func JSON(w http.ResponseWriter, status int, data any) {
	write(w, status, Response{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

// Error sends an error response
func Error(w http.ResponseWriter, status int, message any) {
	write(w, status, Response{
		Success: false,
		Error:   message,
	})
}

// StatusFor maps a command error to its HTTP status
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// Result writes the CommandResult of a command. successStatus is used
// when err is nil.
func Result(w http.ResponseWriter, r *http.Request, successStatus int, data any, err error) {
	status := successStatus
	if err != nil {
		status = StatusFor(err)
		if status == http.StatusInternalServerError {
			log.Error().Err(err).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Msg("command failed")
		}
	}
	write(w, status, domain.NewResult(data, err))
}

// Invalid writes a validation failure as a CommandResult
func Invalid(w http.ResponseWriter, fields map[string]string) {
	err := domain.NewValidationErrors(fields)
	write(w, http.StatusBadRequest, domain.NewResult(nil, err))
}

// NoContent sends a 204 No Content response
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// OK sends a 200 OK response with data
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// Unauthorized sends a 401 Unauthorized response
func Unauthorized(w http.ResponseWriter, message any) {
	Error(w, http.StatusUnauthorized, message)
}
