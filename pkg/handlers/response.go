package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/logging"
)

// ApiResponse is the envelope of every JSON API response that is not a query result.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// classifyError maps an engine error to an HTTP status and error code. Server-side failures
// keep their (sanitized) message so callers can see what the backend reported. A kind set by
// the engine wins over any sentinel it wraps.
func classifyError(err error) (status int, code, message string) {
	switch apperrors.KindOf(err) {
	case apperrors.KindConfiguration, apperrors.KindPlugin, apperrors.KindBackend:
		return http.StatusInternalServerError, "internal_error", logging.SanitizeError(err)
	case apperrors.KindValidation:
		return http.StatusBadRequest, "invalid_request", err.Error()
	}

	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "not_found", err.Error()
	case errors.Is(err, apperrors.ErrDatabaseNotMapped):
		return http.StatusBadRequest, "database_not_mapped", err.Error()
	case errors.Is(err, apperrors.ErrAccessTokenRequired):
		return http.StatusUnauthorized, "unauthorized", err.Error()
	case errors.Is(err, apperrors.ErrNotImplemented):
		return http.StatusNotImplemented, "not_implemented", err.Error()
	}
	return http.StatusInternalServerError, "internal_error", logging.SanitizeError(err)
}
