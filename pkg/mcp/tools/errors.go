package tools

import (
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/logging"
)

// ErrorResponse represents a structured error in tool results.
// Returned as a successful tool result so the client sees the error details.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error.
// Use this for errors the caller can act on (unknown query, bad parameters).
// System failures should still return Go errors.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return NewErrorResultWithDetails(code, message, nil)
}

// NewErrorResultWithDetails creates an error result with additional context.
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// engineErrorResult turns an engine error into a tool result. Configuration problems are
// not something the caller can fix, so they come back as a Go error instead. A kind set by
// the engine wins over any sentinel it wraps.
func engineErrorResult(err error) (*mcp.CallToolResult, error) {
	switch apperrors.KindOf(err) {
	case apperrors.KindValidation:
		return NewErrorResult("invalid_request", err.Error()), nil
	case apperrors.KindBackend:
		return NewErrorResult("backend_error", logging.SanitizeError(err)), nil
	case apperrors.KindPlugin:
		return NewErrorResult("processor_error", logging.SanitizeError(err)), nil
	case apperrors.KindConfiguration:
		return nil, errors.New(logging.SanitizeError(err))
	}

	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return NewErrorResult("query_not_found", err.Error()), nil
	case errors.Is(err, apperrors.ErrDatabaseNotMapped):
		return NewErrorResult("database_not_mapped", err.Error()), nil
	case errors.Is(err, apperrors.ErrAccessTokenRequired):
		return NewErrorResult("unauthorized", err.Error()), nil
	case errors.Is(err, apperrors.ErrNotImplemented):
		return NewErrorResult("not_implemented", err.Error()), nil
	}
	return nil, errors.New(logging.SanitizeError(err))
}
