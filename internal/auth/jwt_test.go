package auth

import (
	"strings"
	"testing"
	"time"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateJWT(secret, "bridge-1", RoleBridge, time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}

	claims, err := ValidateJWT(secret, token, RoleBridge)
	if err != nil {
		t.Fatalf("ValidateJWT: %v", err)
	}
	if claims.Subject != "bridge-1" || claims.Role != RoleBridge {
		t.Errorf("claims = %+v", claims)
	}

	if _, err := ValidateJWT(secret, token, RoleViewer); err == nil {
		t.Error("bridge token accepted where only viewers are allowed")
	}
	if _, err := ValidateJWT(strings.Repeat("x", 32), token); err == nil {
		t.Error("token accepted under another secret")
	}
}

func TestExpiredToken(t *testing.T) {
	token, err := GenerateJWT(secret, "viewer", RoleViewer, -time.Minute)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}
	if _, err := ValidateJWT(secret, token); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestShortSecretRejected(t *testing.T) {
	if _, err := GenerateJWT("short", "x", RoleViewer, time.Hour); err == nil {
		t.Fatal("short secret accepted")
	}
}
