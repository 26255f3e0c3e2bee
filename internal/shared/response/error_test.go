package response

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"starlane-server/internal/shared/errors"
)

func TestErrorStatusAndBody(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		status     int
		errorType  string
		message    string
		retryAfter string
	}{
		{"validation", errors.Validation("bad frame"), http.StatusBadRequest, "validation", "bad frame", ""},
		{"precondition", errors.Preconditionf("You are already traveling."), http.StatusUnprocessableEntity, "precondition", "You are already traveling.", ""},
		{"method", errors.MethodNotAllowed(http.MethodGet), http.StatusMethodNotAllowed, "method_not_allowed", "method GET not allowed", ""},
		{"rate limited", errors.RateLimited("rate limit exceeded"), http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", ""},
		{"bridge down", errors.WrapExternal("no bridge", fmt.Errorf("dial failed")), http.StatusServiceUnavailable, "external", "no bridge: dial failed", "5"},
		{"deadline", fmt.Errorf("snapshot: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, "external", "The request timed out. Please try again.", "5"},
		{"internal", errors.WrapInternal("failed to load map", fmt.Errorf("no such table: locations")), http.StatusInternalServerError, "internal",
			"Something went wrong on our side. Please try again shortly.", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Error(rec, httptest.NewRequest(http.MethodGet, "/api/map/snapshot", nil), slog.Default(), tt.err)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			var body ErrorResponse
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Error != tt.errorType || body.Message != tt.message || body.Code != tt.status {
				t.Errorf("body = %+v", body)
			}
			if got := rec.Header().Get("Retry-After"); got != tt.retryAfter {
				t.Errorf("Retry-After = %q, want %q", got, tt.retryAfter)
			}
		})
	}
}

func TestErrorWithMessageOverridesText(t *testing.T) {
	rec := httptest.NewRecorder()
	ErrorWithMessage(rec, httptest.NewRequest(http.MethodGet, "/api/map/snapshot", nil), slog.Default(),
		errors.WrapInternal("failed to build snapshot", fmt.Errorf("locked")), "Map is unavailable")

	var body ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Code != http.StatusInternalServerError || body.Message != "Map is unavailable" {
		t.Errorf("status %d body %+v", rec.Code, body)
	}
}
