package voice

import (
	"errors"
	"fmt"
)

// ErrCancelled is returned by operations aborted through CancelCurrent or a
// caller-cancelled context. It is not part of the error taxonomy: cancelled
// turns resolve silently to Idle and are never surfaced through the host's
// error hook.
var ErrCancelled = errors.New("voice: turn cancelled")

// ErrSendInFlight is returned when a second Send is issued while one is
// outstanding. The interaction machine's Idle gating prevents this in normal
// operation; the transfer manager asserts it independently as a defensive
// invariant.
var ErrSendInFlight = errors.New("voice: a transfer is already in flight")

// ErrorKind classifies a failed turn for the host's error hook.
type ErrorKind int

const (
	// KindCaptureUnavailable means microphone capture could not start
	// (permission denied, device busy, platform not connected).
	KindCaptureUnavailable ErrorKind = iota

	// KindTransferTimeout means the combined upload+processing watchdog
	// expired before the service produced a result.
	KindTransferTimeout

	// KindNetworkFailure means the request never completed at the transport
	// level (DNS, connect, reset, dial failure).
	KindNetworkFailure

	// KindServiceFailure means the service answered with a non-2xx status.
	// The [Error.Category] field carries the status category.
	KindServiceFailure

	// KindMalformedResponse means the service answered 2xx but the body
	// could not be decoded into a [TurnResult].
	KindMalformedResponse

	// KindPlaybackFailure means the audio sink could not initialise or
	// decode the synthesized speech.
	KindPlaybackFailure
)

// String returns the stable name of the kind, used in logs and metrics.
func (k ErrorKind) String() string {
	switch k {
	case KindCaptureUnavailable:
		return "capture_unavailable"
	case KindTransferTimeout:
		return "transfer_timeout"
	case KindNetworkFailure:
		return "network_failure"
	case KindServiceFailure:
		return "service_failure"
	case KindMalformedResponse:
		return "malformed_response"
	case KindPlaybackFailure:
		return "playback_failure"
	default:
		return "unknown"
	}
}

// StatusCategory distinguishes service failure classes so the host can pick
// a recovery strategy without parsing status codes.
type StatusCategory string

const (
	CategoryAuth        StatusCategory = "auth"
	CategoryRateLimited StatusCategory = "rate_limited"
	CategoryClient      StatusCategory = "client"
	CategoryServer      StatusCategory = "server"
	CategoryUnknown     StatusCategory = "unknown"
)

// CategorizeStatus maps an HTTP status code to a [StatusCategory].
func CategorizeStatus(status int) StatusCategory {
	switch {
	case status == 401 || status == 403:
		return CategoryAuth
	case status == 429:
		return CategoryRateLimited
	case status >= 400 && status < 500:
		return CategoryClient
	case status >= 500 && status < 600:
		return CategoryServer
	default:
		return CategoryUnknown
	}
}

// Error is a classified turn failure. It wraps the underlying cause so
// callers can still reach transport details via [errors.Unwrap].
type Error struct {
	// Kind is the taxonomy bucket.
	Kind ErrorKind

	// Category is set only for KindServiceFailure.
	Category StatusCategory

	// Message is a short human-readable description.
	Message string

	cause error
}

// NewError builds a classified [Error] wrapping cause. cause may be nil.
func NewError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, cause: cause}
}

// NewServiceError builds a KindServiceFailure error for the given status code.
func NewServiceError(status int, msg string) *Error {
	return &Error{
		Kind:     KindServiceFailure,
		Category: CategorizeStatus(status),
		Message:  msg,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("voice: %s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("voice: %s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// KindOf extracts the [ErrorKind] from err. ok is false when err is nil,
// a cancellation, or otherwise outside the taxonomy.
func KindOf(err error) (kind ErrorKind, ok bool) {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Kind, true
	}
	return 0, false
}
