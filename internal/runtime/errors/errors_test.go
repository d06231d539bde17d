package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"ErrConfigRequired", ErrConfigRequired, "vuflow: configuration is required"},
		{"ErrTargetRequired", ErrTargetRequired, "vuflow: target is required"},
		{"ErrTopicRequired", ErrTopicRequired, "vuflow: topic is required"},
		{"ErrUnboundedLoop", ErrUnboundedLoop, "vuflow: loop without count or over values requires a whileTrue predicate"},
		{"ErrDuplicateID", ErrDuplicateID, "vuflow: correlation id is already pending"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestTypedErrorsUnwrap(t *testing.T) {
	inner := errors.New("broker unreachable")

	tests := []struct {
		name string
		err  error
	}{
		{"ConnectionError", ConnectionError{Target: "nats://x", Err: inner}},
		{"PublishError", PublishError{Topic: "orders", Err: inner}},
		{"HookError", HookError{Hook: "sign", Err: inner}},
		{"ConfigValidationError", ConfigValidationError{Err: inner}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("step 2: %w", tt.err)
			if !errors.Is(wrapped, inner) {
				t.Errorf("errors.Is(%v, inner) = false", wrapped)
			}
		})
	}
}

func TestAcknowledgeTimeoutErrorNamesMethod(t *testing.T) {
	err := AcknowledgeTimeoutError{ID: "a.1", Method: "join", Timeout: "10s"}
	want := `vuflow: acknowledge for "join" (id a.1) timed out after 10s`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	var target AcknowledgeTimeoutError
	if !errors.As(fmt.Errorf("wrap: %w", err), &target) {
		t.Fatal("errors.As failed")
	}
	if target.Method != "join" {
		t.Errorf("Method = %q", target.Method)
	}
}

func TestNewConfigValidationError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if err := NewConfigValidationError(nil); err != nil {
			t.Errorf("NewConfigValidationError(nil) = %v, want nil", err)
		}
	})

	t.Run("wraps error", func(t *testing.T) {
		inner := errors.New("bad")
		err := NewConfigValidationError(inner)
		var cve ConfigValidationError
		if !errors.As(err, &cve) {
			t.Fatal("expected ConfigValidationError")
		}
		if cve.Err != inner {
			t.Errorf("Err = %v, want %v", cve.Err, inner)
		}
	})
}

func TestIsWarning(t *testing.T) {
	if !IsWarning(ProcessorNotFoundWarning{Kind: "function", Name: "x"}) {
		t.Error("expected warning")
	}
	if IsWarning(PublishError{Topic: "t", Err: errors.New("x")}) {
		t.Error("publish error is not a warning")
	}
}
