package viva

import "fmt"

// The error taxonomy for the gateway: every failure a caller can act on is
// one of these shapes, so handlers map them to HTTP statuses with errors.As
// and never inspect message strings.

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidStateError reports an operation attempted in the wrong lifecycle or
// turn state.
type InvalidStateError struct {
	Op    string
	State string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s in state %s", e.Op, e.State)
}

// BackendError reports a failed request/response exchange with the examiner
// backend. Status is zero for transport-level failures (timeouts, refused
// connections).
type BackendError struct {
	Status int
	Body   string
}

func (e *BackendError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("backend request failed: %s", e.Body)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Body)
}

// BackendUnavailableError reports a failed pre-session health check.
type BackendUnavailableError struct {
	Reason string
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("backend unavailable: %s", e.Reason)
}

// ConnectionError reports a push-channel connection failure. Attempt is the
// automatic reconnect attempt that failed, zero for a direct connect.
type ConnectionError struct {
	Attempt int
	Reason  string
}

func (e *ConnectionError) Error() string {
	if e.Attempt > 0 {
		return fmt.Sprintf("push connection failed (attempt %d): %s", e.Attempt, e.Reason)
	}
	return fmt.Sprintf("push connection failed: %s", e.Reason)
}

// MediaError reports an audio capture or playback fault.
type MediaError struct {
	Op     string
	Reason string
}

func (e *MediaError) Error() string {
	return fmt.Sprintf("media %s: %s", e.Op, e.Reason)
}
