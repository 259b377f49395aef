package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-dct/internal/bridges/dct"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeNotFound           = "not_found"
	ErrCodeConflict           = "conflict"
	ErrCodeInternal           = "internal_error"
	ErrCodeTooManyRequests    = "rate_limited"
	ErrCodeTooLarge           = "payload_too_large"
	ErrCodeUnavailable        = "unavailable"
	ErrCodeDeviceUnreachable  = "device_unreachable"
	ErrCodePreconditionFailed = "precondition_failed"
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

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnavailable writes a 503 error response.
func writeUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDeviceError maps an error from the device session onto a response.
func writeDeviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dct.ErrUnknownAction):
		writeNotFound(w, err.Error())
	case errors.Is(err, dct.ErrInvalidParameter):
		writeBadRequest(w, err.Error())
	case errors.Is(err, dct.ErrRefused):
		writeError(w, http.StatusConflict, ErrCodePreconditionFailed, err.Error())
	case errors.Is(err, dct.ErrNotConnected),
		errors.Is(err, dct.ErrConnectionFailed),
		errors.Is(err, dct.ErrSendFailed),
		errors.Is(err, dct.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, ErrCodeDeviceUnreachable, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
