package response

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"starlane-server/internal/shared/errors"
)

// Seconds a client should wait before retrying when a bridge or other
// upstream is unavailable.
const upstreamRetrySeconds = 5

// ErrorResponse represents the JSON error response sent to clients
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// Error logs an error and sends a JSON error response to the client.
// Server-side failures are reported with a generic message; the detail
// only goes to the log.
func Error(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	errorType := classify(err)
	statusCode := statusFor(errorType, err)

	logError(logger, r, err, errorType, statusCode)
	sendErrorResponse(w, errorType, clientMessage(err, statusCode), statusCode)
}

// ErrorWithMessage logs an error and sends a JSON error response with a custom client message
func ErrorWithMessage(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, message string) {
	errorType := classify(err)
	statusCode := statusFor(errorType, err)

	logError(logger, r, err, errorType, statusCode)
	sendErrorResponse(w, errorType, message, statusCode)
}

// classify treats an expired request deadline as an upstream failure so a
// slow database or bridge is not reported as a bug.
func classify(err error) errors.ErrorType {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.ErrorTypeExternal
	}
	return errors.GetType(err)
}

func statusFor(errorType errors.ErrorType, err error) int {
	switch errorType {
	case errors.ErrorTypeNotFound:
		return http.StatusNotFound
	case errors.ErrorTypeValidation:
		return http.StatusBadRequest
	case errors.ErrorTypePrecondition:
		return http.StatusUnprocessableEntity
	case errors.ErrorTypeConflict:
		return http.StatusConflict
	case errors.ErrorTypeUnauthorized:
		return http.StatusUnauthorized
	case errors.ErrorTypeForbidden:
		return http.StatusForbidden
	case errors.ErrorTypeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case errors.ErrorTypeRateLimited:
		return http.StatusTooManyRequests
	case errors.ErrorTypeExternal:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func clientMessage(err error, statusCode int) string {
	switch {
	case statusCode == http.StatusGatewayTimeout:
		return "The request timed out. Please try again."
	case statusCode >= http.StatusInternalServerError:
		return errors.UserMessage(err)
	default:
		return err.Error()
	}
}

func logError(logger *slog.Logger, r *http.Request, err error, errorType errors.ErrorType, statusCode int) {
	logCtx := logger.With(
		"method", r.Method,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr,
		"error_type", errorType,
		"status_code", statusCode,
	)

	switch errorType {
	case errors.ErrorTypeNotFound:
		logCtx.Debug("Resource not found", "error", err)
	case errors.ErrorTypeValidation, errors.ErrorTypePrecondition, errors.ErrorTypeMethodNotAllowed:
		logCtx.Debug("Request rejected", "error", err)
	case errors.ErrorTypeUnauthorized, errors.ErrorTypeForbidden:
		// Might be a leaked or expired bridge token.
		logCtx.Warn("Authorization error", "error", err)
	case errors.ErrorTypeRateLimited:
		logCtx.Warn("Rate limit exceeded")
	case errors.ErrorTypeConflict:
		logCtx.Info("Conflict error", "error", err)
	case errors.ErrorTypeExternal:
		logCtx.Error("Upstream unavailable", "error", err)
	default:
		logCtx.Error("Internal server error", "error", err)
	}
}

func sendErrorResponse(w http.ResponseWriter, errorType errors.ErrorType, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	if errorType == errors.ErrorTypeExternal && w.Header().Get("Retry-After") == "" {
		w.Header().Set("Retry-After", strconv.Itoa(upstreamRetrySeconds))
	}
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error:   string(errorType),
		Message: message,
		Code:    statusCode,
	}

	// The status code has already been sent
	_ = json.NewEncoder(w).Encode(response)
}

// Success sends a JSON success response to the client
func Success(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}
