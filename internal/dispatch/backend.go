package dispatch

import (
	"context"
	"fmt"
	"time"

	"relayd/internal/relay"
)

// Backend is one delivery channel. Implementations must tolerate
// concurrent Send calls.
type Backend interface {
	Kind() relay.BackendKind
	Send(ctx context.Context, p relay.Payload) error
}

// NativeScheduler is implemented by backends whose remote service can hold
// a message and fire it itself (Slack's chat.scheduleMessage). When enabled
// the local scheduler arms no timer for that job.
type NativeScheduler interface {
	NativeScheduleEnabled() bool
	ScheduleNative(ctx context.Context, p relay.Payload, at time.Time) error
}

// TransportError is a delivery failure surfaced by a backend. The relay
// treats it as a bad-request-class outcome, never a crash.
type TransportError struct {
	Backend relay.BackendKind
	Reason  string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport: %s", e.Backend, e.Reason)
}

func (e *TransportError) Unwrap() error { return e.Err }

func transportErr(kind relay.BackendKind, reason string, err error) *TransportError {
	if err != nil && reason == "" {
		reason = err.Error()
	}
	return &TransportError{Backend: kind, Reason: reason, Err: err}
}
