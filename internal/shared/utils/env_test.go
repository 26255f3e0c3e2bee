package utils

import (
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("STARLANE_TEST_VALUE", "present")
	t.Setenv("STARLANE_TEST_EMPTY", "")

	if got := GetEnv("STARLANE_TEST_VALUE", "fallback"); got != "present" {
		t.Fatalf("GetEnv = %q, want present", got)
	}
	if got := GetEnv("STARLANE_TEST_EMPTY", "fallback"); got != "fallback" {
		t.Fatalf("GetEnv(empty) = %q, want fallback", got)
	}
	if got := GetEnv("STARLANE_TEST_MISSING", "fallback"); got != "fallback" {
		t.Fatalf("GetEnv(missing) = %q, want fallback", got)
	}
}

func TestTypedGetters(t *testing.T) {
	t.Setenv("STARLANE_TEST_INT", "42")
	t.Setenv("STARLANE_TEST_BAD_INT", "forty")
	t.Setenv("STARLANE_TEST_BOOL", "true")
	t.Setenv("STARLANE_TEST_SECONDS", "90")

	if got := GetEnvInt("STARLANE_TEST_INT", 1); got != 42 {
		t.Fatalf("GetEnvInt = %d", got)
	}
	if got := GetEnvInt("STARLANE_TEST_BAD_INT", 7); got != 7 {
		t.Fatalf("GetEnvInt(bad) = %d", got)
	}
	if !GetEnvBool("STARLANE_TEST_BOOL", false) {
		t.Fatalf("GetEnvBool = false")
	}
	if got := GetEnvSeconds("STARLANE_TEST_SECONDS", time.Second); got != 90*time.Second {
		t.Fatalf("GetEnvSeconds = %v", got)
	}
}
