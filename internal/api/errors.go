package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/atagone-core/internal/atagone"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest    = "bad_request"
	ErrCodeValidation    = "validation_error"
	ErrCodeInternal      = "internal_error"
	ErrCodeNotConfigured = "not_configured"
	ErrCodeUnreachable   = "device_unreachable"
	ErrCodeProtocol      = "protocol_error"
	ErrCodeTimeout       = "timeout"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeValidationError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDeviceError maps an error from the device facade to a response.
func writeDeviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, err.Error())
	case errors.Is(err, atagone.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, ErrCodeNotConfigured, err.Error())
	case errors.Is(err, atagone.ErrTransport):
		writeError(w, http.StatusBadGateway, ErrCodeUnreachable, err.Error())
	case errors.Is(err, atagone.ErrProtocol):
		writeError(w, http.StatusBadGateway, ErrCodeProtocol, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
