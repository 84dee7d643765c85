package domain

import (
	"errors"
	"fmt"
)

// Retryable failures surfaced to the delivery layer.
var (
	// ErrConflictRetryExhausted is returned once a transaction's bounded
	// conflict retry budget is spent.
	ErrConflictRetryExhausted = errors.New("conflict retry exhausted")
	// ErrStoreUnavailable wraps document or counter store failures.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrUploadFailure wraps artifact storage failures.
	ErrUploadFailure = errors.New("artifact upload failed")
)

type permanentError struct {
	cause error
}

func (e permanentError) Error() string {
	if e.cause == nil {
		return "permanent error"
	}
	return e.cause.Error()
}

func (e permanentError) Unwrap() error {
	return e.cause
}

// Permanent marks an error as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{cause: err}
}

// IsPermanent reports whether err was explicitly marked as non-retryable.
func IsPermanent(err error) bool {
	var target permanentError
	return errors.As(err, &target)
}

// UnknownEventTypeError rejects an event kind outside the closed set.
type UnknownEventTypeError struct {
	Kind string
}

func (e *UnknownEventTypeError) Error() string {
	return fmt.Sprintf("unknown event type %q", e.Kind)
}

// RejectReason names a terminal, user-visible rejection.
type RejectReason string

const (
	RejectInvalidColor       RejectReason = "invalid_color"
	RejectSessionInactive    RejectReason = "session_inactive"
	RejectOutOfBounds        RejectReason = "out_of_bounds"
	RejectCoordinateTooLarge RejectReason = "coordinate_too_large"
	RejectRateLimited        RejectReason = "rate_limited"
	RejectInvalidTransition  RejectReason = "invalid_transition"
	RejectNoSession          RejectReason = "no_session"
	RejectInvalidPayload     RejectReason = "invalid_payload"
)

// Rejection is a terminal outcome: the event is acknowledged and the reason
// is relayed to the caller. It is never retried.
type Rejection struct {
	Reason RejectReason
	// Count and Max are set for rate limiting.
	Count int
	Max   int
	// Width and Height are set for out-of-bounds rejections.
	Width  int
	Height int
	// State is the session state behind a session or transition rejection.
	State  string
	Detail string
}

func (r *Rejection) Error() string {
	switch r.Reason {
	case RejectRateLimited:
		return fmt.Sprintf("rejected: %s (%d/%d)", r.Reason, r.Count, r.Max)
	case RejectOutOfBounds:
		return fmt.Sprintf("rejected: %s (%dx%d)", r.Reason, r.Width, r.Height)
	}
	if r.Detail != "" {
		return fmt.Sprintf("rejected: %s: %s", r.Reason, r.Detail)
	}
	return "rejected: " + string(r.Reason)
}

// AsRejection unwraps a *Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var rejection *Rejection
	if errors.As(err, &rejection) {
		return rejection, true
	}
	return nil, false
}
