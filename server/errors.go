package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/m-mizutani/goerr/v2"

	"github.com/t-bank-sirius/LTM/core"
)

// ErrRateLimited is returned when guardrails reject a request.
var ErrRateLimited = goerr.New("rate limit exceeded")

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeNotReady        = "NOT_READY"
	CodeConfigError     = "CONFIG_ERROR"
	CodeRateLimited     = "RATE_LIMITED"
	CodeUpstreamError   = "UPSTREAM_ERROR"
	CodeInternalError   = "INTERNAL_ERROR"
)

// classify maps an error to its HTTP status, code and client message.
// Validation messages are passed through; everything else is replaced with a
// fixed message so storage details do not leak to clients.
func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, core.ErrInvalidInput):
		return http.StatusUnprocessableEntity, CodeValidationError, err.Error()
	case errors.Is(err, core.ErrDegenerateVector):
		return http.StatusUnprocessableEntity, CodeValidationError, "text has no content that can be embedded"
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, CodeRateLimited, err.Error()
	case errors.Is(err, core.ErrNotInitialized):
		return http.StatusServiceUnavailable, CodeNotReady, "memory service is not initialized"
	case errors.Is(err, core.ErrDimensionMismatch):
		return http.StatusInternalServerError, CodeConfigError, "embedding dimension mismatch"
	default:
		return http.StatusBadGateway, CodeUpstreamError, "upstream service failure"
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := classify(err)

	attrs := []any{"method", r.Method, "path", r.URL.Path, "status", status, "error", err}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", attrs...)
	} else {
		s.logger.Warn("request rejected", attrs...)
	}

	writeJSON(w, status, ErrorResponse{
		Status:  "error",
		Code:    code,
		Message: message,
	})
}
