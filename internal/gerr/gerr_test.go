package gerr

import (
	"errors"
	"testing"
)

func TestIsMatchesByCodeAcrossDistinctInstances(t *testing.T) {
	err := New(CodeConnection, "dial 127.0.0.1:4730", errors.New("connection refused"))

	if !errors.Is(err, ErrConnection) {
		t.Fatal("expected errors.Is to match the Connection sentinel by code")
	}
	if errors.Is(err, ErrProtocol) {
		t.Fatal("expected errors.Is to not match a different code's sentinel")
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("boom")
	err := New(CodeProtocol, "bad frame", cause)

	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to see through to the wrapped cause")
	}
}

func TestErrorStringIncludesCauseWhenPresent(t *testing.T) {
	withCause := New(CodeConnection, "dial failed", errors.New("refused"))
	withoutCause := New(CodeConnection, "dial failed", nil)

	if withCause.Error() == withoutCause.Error() {
		t.Fatal("expected the cause to change the rendered error string")
	}
}

func TestNewfFormatsMessage(t *testing.T) {
	err := Newf(CodeUnknownCommand, "unrecognized type %d", 42)
	want := "unknown_command: unrecognized type 42"
	if err.Error() != want {
		t.Fatalf("expected %q, got %q", want, err.Error())
	}
}
