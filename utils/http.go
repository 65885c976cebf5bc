package utils

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SuccessResponse wraps every 2xx payload in a data envelope
type SuccessResponse struct {
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

type statusInfo struct {
	code           string
	defaultMessage string
}

var statusCodes = map[int]statusInfo{
	http.StatusBadRequest:          {"bad_request", "Bad request"},
	http.StatusUnauthorized:        {"unauthorized", "Authentication required"},
	http.StatusForbidden:           {"forbidden", "Access forbidden"},
	http.StatusNotFound:            {"not_found", "Resource not found"},
	http.StatusConflict:            {"conflict", "Conflict"},
	http.StatusTooManyRequests:     {"rate_limit_exceeded", "Rate limit exceeded"},
	http.StatusInternalServerError: {"internal_error", "Internal server error"},
	http.StatusBadGateway:          {"bad_gateway", "Upstream service error"},
	http.StatusServiceUnavailable:  {"service_unavailable", "Service unavailable"},
}

// WriteJSON writes data with the given status. A nil data writes headers only.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(data)
}

// WriteOK writes a 200 with data in the envelope
func WriteOK(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, SuccessResponse{Data: data})
}

// WriteCreated writes a 201 with data in the envelope
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, SuccessResponse{Data: data})
}

func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteError writes an ErrorResponse whose code is derived from status.
// Unknown statuses are reported as internal_error; an empty message falls
// back to the status default.
func WriteError(w http.ResponseWriter, status int, message string, details map[string]interface{}) error {
	info, ok := statusCodes[status]
	if !ok {
		info = statusCodes[http.StatusInternalServerError]
	}
	if message == "" {
		message = info.defaultMessage
	}
	return WriteJSON(w, status, ErrorResponse{Error: info.code, Message: message, Details: details})
}

func WriteBadRequest(w http.ResponseWriter, message string, details map[string]interface{}) error {
	return WriteError(w, http.StatusBadRequest, message, details)
}

func WriteUnauthorized(w http.ResponseWriter, message string) error {
	return WriteError(w, http.StatusUnauthorized, message, nil)
}

func WriteForbidden(w http.ResponseWriter, message string) error {
	return WriteError(w, http.StatusForbidden, message, nil)
}

func WriteNotFound(w http.ResponseWriter, message string) error {
	return WriteError(w, http.StatusNotFound, message, nil)
}

func WriteConflict(w http.ResponseWriter, message string, details map[string]interface{}) error {
	return WriteError(w, http.StatusConflict, message, details)
}

// WriteTooManyRequests answers throttled and over-budget requests
func WriteTooManyRequests(w http.ResponseWriter, message string, details map[string]interface{}) error {
	return WriteError(w, http.StatusTooManyRequests, message, details)
}

func WriteInternalServerError(w http.ResponseWriter, message string) error {
	return WriteError(w, http.StatusInternalServerError, message, nil)
}

// WriteServiceUnavailable is used by readiness when a dependency is down
func WriteServiceUnavailable(w http.ResponseWriter, message string, details map[string]interface{}) error {
	return WriteError(w, http.StatusServiceUnavailable, message, details)
}
