package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lifeloop/progression/internal/domain/shared"
	"github.com/lifeloop/progression/pkg/logger"
)

// retryAfter is advertised on 503 responses.
const retryAfter = 2 * time.Second

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE ENVELOPE
// ══════════════════════════════════════════════════════════════════════════════

// Response is the envelope of every API response.
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

// APIError describes a failed request.
type APIError struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Fields  []map[string]string `json:"fields,omitempty"`
}

// writeJSON writes data inside a success envelope.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	writeEnvelope(w, status, Response{
		Success:   true,
		Data:      data,
		RequestID: requestID(r),
	})
}

// writeJSONError writes an error envelope.
func writeJSONError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeEnvelope(w, status, Response{
		Error:     &APIError{Code: code, Message: message},
		RequestID: requestID(r),
	})
}

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

func writeEnvelope(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// statusFor maps an application error to its HTTP status and code.
func statusFor(err error) (int, string) {
	switch {
	case shared.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case shared.IsAlreadyExists(err):
		return http.StatusConflict, "already_exists"
	case shared.IsStateConflict(err):
		return http.StatusConflict, "state_conflict"
	case errors.Is(err, shared.ErrValidation):
		return http.StatusUnprocessableEntity, "rule_violation"
	case shared.IsValidation(err):
		return http.StatusBadRequest, "invalid_input"
	case shared.IsRetryable(err), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeError maps err to a response. Internal details are logged, not returned.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)

	message := err.Error()
	var de *shared.DomainError
	if errors.As(err, &de) {
		message = de.Message
	}

	switch status {
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
		s.requestLogger(r).Warn("request failed, retryable",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		message = "service temporarily unavailable"
	case http.StatusInternalServerError:
		s.requestLogger(r).Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		message = "internal server error"
	}

	writeJSONError(w, r, status, code, message)
}

// writeValidationError reports request decoding or validation failures.
func writeValidationError(w http.ResponseWriter, r *http.Request, err error) {
	writeEnvelope(w, http.StatusBadRequest, Response{
		Error: &APIError{
			Code:    "invalid_request",
			Message: "request is invalid",
			Fields:  validationFields(err),
		},
		RequestID: requestID(r),
	})
}

// requestLogger returns the logger set by loggingMiddleware, falling back
// to the server logger tagged with the request ID.
func (s *Server) requestLogger(r *http.Request) *zap.Logger {
	return logger.FromContextOr(r.Context(), s.logger.With(logger.RequestID(requestID(r))))
}
