package browser

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed action for the engine's retry policy.
type ErrorKind string

// Action error kinds. Transport errors and timeouts are produced by the
// link; action errors carry the agent's reported error string; unknown
// and invalid actions never reach the agent.
const (
	ErrKindTransport      ErrorKind = "transport_error"
	ErrKindAction         ErrorKind = "action_error"
	ErrKindTimeout        ErrorKind = "timeout"
	ErrKindUnknownAction  ErrorKind = "unknown_action"
	ErrKindInvalidPayload ErrorKind = "invalid_payload"
)

// Sentinel link errors.
var (
	// ErrNotConnected is returned when no agent socket is attached.
	ErrNotConnected = errors.New("browser agent not connected")
	// ErrBusy is returned when the in-flight action bound is exceeded.
	ErrBusy = errors.New("too many in-flight actions")
)

// Error is a classified action failure.
type Error struct {
	Kind    ErrorKind
	Action  Kind
	Message string
}

func (e *Error) Error() string {
	if e.Action == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Action, e.Message)
}

// IsTimeout reports whether err is an action timeout.
func IsTimeout(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == ErrKindTimeout
}

// KindOf returns the error kind of err, or ErrKindTransport for
// unclassified errors (socket-level failures, context cancellation is
// reported separately by the caller).
func KindOf(err error) ErrorKind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ErrKindTransport
}
