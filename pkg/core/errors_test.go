package core

import (
	"errors"
	"testing"
)

func TestErrorString(t *testing.T) {
	err := &Error{Type: ErrInvocation, Message: "boom", Code: "tool_failed"}
	want := "invocation_error: boom (code: tool_failed)"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	err = NewTransportError("connection dropped")
	want = "transport_error: connection dropped"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestIsFatal(t *testing.T) {
	cases := []struct {
		err   *Error
		fatal bool
	}{
		{NewConfigurationError("missing credentials"), true},
		{NewTransportError("decode failure"), true},
		{NewInvocationError("search_knowledge", errors.New("timeout")), false},
		{NewCorrelationError("no outstanding request"), false},
		{NewInvalidRequestError("bad frame"), false},
		{NewNotFoundError("macro not found"), false},
	}
	for _, tc := range cases {
		if got := tc.err.IsFatal(); got != tc.fatal {
			t.Errorf("IsFatal(%s) = %v, want %v", tc.err.Type, got, tc.fatal)
		}
	}
}

func TestInvocationErrorUnwrap(t *testing.T) {
	under := errors.New("capability threw")
	err := NewInvocationError("generate_code", under)
	if err.Type != ErrInvocation {
		t.Fatalf("expected invocation error type, got %s", err.Type)
	}
	if err.Cause != under.Error() {
		t.Errorf("cause = %v, want %q", err.Cause, under.Error())
	}
}
