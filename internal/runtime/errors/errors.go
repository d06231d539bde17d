package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrConfigRequired     = sterrors.New("vuflow: configuration is required")
	ErrTargetRequired     = sterrors.New("vuflow: target is required")
	ErrTopicRequired      = sterrors.New("vuflow: topic is required")
	ErrNotConnected       = sterrors.New("vuflow: virtual user is not connected")
	ErrUnboundedLoop      = sterrors.New("vuflow: loop without count or over values requires a whileTrue predicate")
	ErrPredicateNotFound  = sterrors.New("vuflow: whileTrue predicate is not registered")
	ErrDuplicateID        = sterrors.New("vuflow: correlation id is already pending")
	ErrMalformedFrame     = sterrors.New("vuflow: malformed acknowledge frame")
	ErrUnmatchedResponse  = sterrors.New("vuflow: acknowledge response matches no pending request")
	ErrEngineClosed       = sterrors.New("vuflow: correlation engine is closed")
	ErrInvalidDuration    = sterrors.New("vuflow: invalid duration")
	ErrProcessorNameEmpty = sterrors.New("vuflow: processor name is required")
	ErrProcessorNil       = sterrors.New("vuflow: processor func is nil")
)

// ConnectionError is fatal to the virtual user that hit it. Connects are never retried.
type ConnectionError struct {
	Target string
	Err    error
}

func (e ConnectionError) Error() string {
	return fmt.Sprintf("vuflow: connect to %q failed: %v", e.Target, e.Err)
}

func (e ConnectionError) Unwrap() error { return e.Err }

// PublishError fails the current step when the transport rejects a publish.
type PublishError struct {
	Topic string
	Err   error
}

func (e PublishError) Error() string {
	return fmt.Sprintf("vuflow: publish to %q failed: %v", e.Topic, e.Err)
}

func (e PublishError) Unwrap() error { return e.Err }

// AcknowledgeTimeoutError names the method whose acknowledge never arrived.
type AcknowledgeTimeoutError struct {
	ID      string
	Method  string
	Timeout string
}

func (e AcknowledgeTimeoutError) Error() string {
	return fmt.Sprintf("vuflow: acknowledge for %q (id %s) timed out after %s", e.Method, e.ID, e.Timeout)
}

// AckRejectedError is returned when the responder filled the error slot of the frame.
type AckRejectedError struct {
	Method string
	Reason any
}

func (e AckRejectedError) Error() string {
	return fmt.Sprintf("vuflow: acknowledge for %q rejected: %v", e.Method, e.Reason)
}

// DataMismatchError reports a literal expectation that did not equal the received body.
type DataMismatchError struct {
	Expected any
	Got      any
	Diff     string
}

func (e DataMismatchError) Error() string {
	if e.Diff != "" {
		return fmt.Sprintf("vuflow: acknowledge data mismatch (-expected +got):\n%s", e.Diff)
	}
	return fmt.Sprintf("vuflow: acknowledge data mismatch: expected %v, got %v", e.Expected, e.Got)
}

// MatchFailureError reports the first match expression that did not hold.
type MatchFailureError struct {
	Expression string
	Expected   any
	Got        any
}

func (e MatchFailureError) Error() string {
	return fmt.Sprintf("vuflow: match %s failed: expected %v, got %v", e.Expression, e.Expected, e.Got)
}

// HookError wraps the failure of a beforeRequest hook.
type HookError struct {
	Hook string
	Err  error
}

func (e HookError) Error() string {
	return fmt.Sprintf("vuflow: beforeRequest hook %q failed: %v", e.Hook, e.Err)
}

func (e HookError) Unwrap() error { return e.Err }

// ProcessorNotFoundWarning is non-fatal; the step that produced it is skipped.
type ProcessorNotFoundWarning struct {
	Kind string
	Name string
}

func (w ProcessorNotFoundWarning) Error() string {
	return fmt.Sprintf("vuflow: %s %q is not registered, skipping", w.Kind, w.Name)
}

// ConfigValidationError wraps validation failures so callers can detect them.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("vuflow: invalid configuration: %v", e.Err)
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

// IsWarning reports whether err is a non-fatal warning.
func IsWarning(err error) bool {
	var w ProcessorNotFoundWarning
	return sterrors.As(err, &w)
}
