package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestGetTypeThroughWrapping(t *testing.T) {
	base := Preconditionf("not enough fuel: need %d", 20)
	wrapped := fmt.Errorf("depart: %w", base)

	if got := GetType(wrapped); got != ErrorTypePrecondition {
		t.Fatalf("GetType = %s", got)
	}
	if !IsType(wrapped, ErrorTypePrecondition) {
		t.Fatalf("IsType should see through fmt wrapping")
	}
	if GetType(errors.New("plain")) != ErrorTypeInternal {
		t.Fatalf("plain errors should be internal")
	}
}

func TestUserMessageHidesInternalDetail(t *testing.T) {
	internal := WrapInternal("failed to update ship", errors.New("constraint failed: FOREIGN KEY"))
	if msg := UserMessage(internal); msg == internal.Error() {
		t.Fatalf("internal detail leaked: %s", msg)
	}

	precondition := Preconditionf("You are already traveling.")
	if msg := UserMessage(precondition); msg != "You are already traveling." {
		t.Fatalf("UserMessage = %q", msg)
	}
}

func TestUnwrapKeepsCause(t *testing.T) {
	cause := errors.New("busy")
	err := WrapExternal("gateway unavailable", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("errors.Is lost the cause")
	}
}
