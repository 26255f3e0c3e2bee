package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"starlane-server/internal/auth"
	"starlane-server/internal/shared/errors"
	"starlane-server/internal/shared/response"
)

type contextKey string

const ClaimsContextKey contextKey = "claims"

// bearerToken reads the Authorization header, falling back to a token
// query parameter for websocket clients that cannot set headers.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

// JWTMiddleware admits requests carrying a valid token with one of roles.
func JWTMiddleware(secret string, roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := slog.With(
				"middleware", "jwt",
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			logger.Debug("Processing token authentication")

			token := bearerToken(r)
			if token == "" {
				response.Error(w, r, logger, errors.Unauthorized("authentication required"))
				return
			}

			claims, err := auth.ValidateJWT(secret, token, roles...)
			if err != nil {
				logger.Debug("Token rejected", "error", err)
				response.Error(w, r, logger, errors.Unauthorized("invalid token"))
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			logger.Debug("Token authentication successful",
				"subject", claims.Subject,
				"role", claims.Role)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Optional skips authentication entirely when open is set.
func Optional(open bool, guard func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if open {
		return func(next http.Handler) http.Handler { return next }
	}
	return guard
}

func GetClaimsFromContext(r *http.Request) *auth.Claims {
	if claims, ok := r.Context().Value(ClaimsContextKey).(*auth.Claims); ok {
		return claims
	}
	return nil
}
