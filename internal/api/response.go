package api

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// ErrorResponse is the exact shape every non-2xx response takes, matching
// the reference FastAPI backend's ErrorResponse model field-for-field.
type ErrorResponse struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	Detail     string `json:"detail,omitempty"`
	StatusCode int    `json:"status_code"`
}

// JSON writes data as a JSON response body with the given status code.
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Error writes the standard error envelope.
func Error(w http.ResponseWriter, status int, errName, detail string) {
	JSON(w, status, ErrorResponse{
		Success:    false,
		Error:      errName,
		Detail:     detail,
		StatusCode: status,
	})
}

func BadRequest(w http.ResponseWriter, detail string) {
	Error(w, http.StatusBadRequest, "bad_request", detail)
}

func ValidationFailed(w http.ResponseWriter, detail string) {
	Error(w, http.StatusUnprocessableEntity, "validation_error", detail)
}

func Unauthorized(w http.ResponseWriter, detail string) {
	Error(w, http.StatusUnauthorized, "unauthorized", detail)
}

func RateLimited(w http.ResponseWriter, retryAfterSeconds int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	Error(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
}

func NotFound(w http.ResponseWriter, detail string) {
	Error(w, http.StatusNotFound, "not_found", detail)
}

func Conflict(w http.ResponseWriter, detail string) {
	Error(w, http.StatusConflict, "conflict", detail)
}

func InternalError(w http.ResponseWriter, detail string) {
	Error(w, http.StatusInternalServerError, "internal_error", detail)
}

func ServiceUnavailable(w http.ResponseWriter, detail string) {
	Error(w, http.StatusServiceUnavailable, "service_unavailable", detail)
}

// OK sends a 200 OK response.
func OK(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, data)
}
