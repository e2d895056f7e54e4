package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOfUnwrapsThroughWrapping(t *testing.T) {
	inner := Errorf(CodeSlotUnavailable, "taken")
	outer := fmt.Errorf("booking: %w", inner)

	if got := CodeOf(outer); got != CodeSlotUnavailable {
		t.Fatalf("CodeOf = %q, want %q", got, CodeSlotUnavailable)
	}
	if !IsCode(outer, CodeSlotUnavailable) {
		t.Fatalf("IsCode should match through wrapping")
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Fatalf("plain errors must carry no code")
	}
	if CodeOf(nil) != "" {
		t.Fatalf("nil error must carry no code")
	}
}

func TestWrapErrorKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapError(CodeCalendarUnreachable, cause, "freebusy")

	if !errors.Is(err, cause) {
		t.Fatalf("wrapped error must unwrap to its cause")
	}
	if err.Message() != "freebusy" {
		t.Fatalf("Message = %q, want %q", err.Message(), "freebusy")
	}
	if err.Error() != "calendar_unreachable: freebusy: connection refused" {
		t.Fatalf("Error = %q", err.Error())
	}
}
