package auth

import (
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role says what a token holder may connect as.
type Role string

const (
	RoleBridge Role = "bridge"
	RoleViewer Role = "viewer"
)

const minSecretLength = 32

type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

func checkSecret(secret string) error {
	if secret == "" {
		return fmt.Errorf("GATEWAY_TOKEN is required but not set")
	}
	if len(secret) < minSecretLength {
		return fmt.Errorf("GATEWAY_TOKEN must be at least %d characters long for security", minSecretLength)
	}
	return nil
}

// GenerateJWT issues an HS256 token for subject with the given role.
func GenerateJWT(secret, subject string, role Role, lifetime time.Duration) (string, error) {
	if err := checkSecret(secret); err != nil {
		return "", fmt.Errorf("cannot generate JWT: %w", err)
	}

	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "starlane-server",
			Subject:   subject,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateJWT checks signature and expiry and, when roles are given, that
// the token carries one of them.
func ValidateJWT(secret, tokenString string, roles ...Role) (*Claims, error) {
	if err := checkSecret(secret); err != nil {
		return nil, fmt.Errorf("cannot validate JWT: %w", err)
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if len(roles) > 0 && !slices.Contains(roles, claims.Role) {
		return nil, fmt.Errorf("token role %q not allowed", claims.Role)
	}
	return claims, nil
}
