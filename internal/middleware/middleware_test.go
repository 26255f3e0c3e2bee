package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"starlane-server/internal/auth"
	"starlane-server/internal/shared/config"
)

const secret = "0123456789abcdef0123456789abcdef"

func protected(t *testing.T, roles ...auth.Role) http.Handler {
	t.Helper()
	return JWTMiddleware(secret, roles...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := GetClaimsFromContext(r)
		if claims == nil {
			t.Error("claims missing from context")
			return
		}
		w.Header().Set("X-Subject", claims.Subject)
		w.WriteHeader(http.StatusNoContent)
	}))
}

func token(t *testing.T, role auth.Role) string {
	t.Helper()
	tok, err := auth.GenerateJWT(secret, "client-1", role, time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}
	return tok
}

func TestJWTMiddleware(t *testing.T) {
	bridge := token(t, auth.RoleBridge)
	viewer := token(t, auth.RoleViewer)

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"no token", "", "", http.StatusUnauthorized},
		{"bearer header", "Bearer " + bridge, "", http.StatusNoContent},
		{"query token", "", bridge, http.StatusNoContent},
		{"wrong role", "Bearer " + viewer, "", http.StatusUnauthorized},
		{"garbage", "Bearer not-a-token", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/api/gateway/ws"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			protected(t, auth.RoleBridge).ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusNoContent && rec.Header().Get("X-Subject") != "client-1" {
				t.Errorf("subject = %q", rec.Header().Get("X-Subject"))
			}
		})
	}
}

func TestOptionalOpensRoute(t *testing.T) {
	guard := JWTMiddleware(secret, auth.RoleViewer)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	rec := httptest.NewRecorder()
	Optional(true, guard)(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/map/snapshot", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("public route status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	Optional(false, guard)(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/map/snapshot", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("private route status = %d", rec.Code)
	}
}

func TestRateLimiterPerIP(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, BurstSize: 2})
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	hit := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/map/snapshot", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if code := hit("10.0.0.1:5000"); code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, code)
		}
	}
	if code := hit("10.0.0.1:5001"); code != http.StatusTooManyRequests {
		t.Errorf("third request status = %d, want 429", code)
	}
	if code := hit("10.0.0.2:5000"); code != http.StatusOK {
		t.Errorf("other client status = %d", code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	if got := getClientIP(req, false); got != "192.0.2.1" {
		t.Errorf("untrusted ip = %q", got)
	}
	if got := getClientIP(req, true); got != "203.0.113.9" {
		t.Errorf("trusted ip = %q", got)
	}
}
