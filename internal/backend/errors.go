package backend

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a request failure so callers can branch on it
// without parsing message strings.
type ErrorKind string

const (
	// KindNetwork is a connection-level failure (DNS, refused, reset).
	// Safe to retry.
	KindNetwork ErrorKind = "network"
	// KindTimeout means the per-request deadline fired. The server may
	// still be working, so timeouts are never retried automatically.
	KindTimeout ErrorKind = "timeout"
	// KindHTTP means the server responded with a non-2xx status.
	KindHTTP ErrorKind = "http"
	// KindCancelled means the caller's context was cancelled.
	KindCancelled ErrorKind = "cancelled"
	// KindValidation is a client-side check that failed before any
	// network call was made.
	KindValidation ErrorKind = "validation"
)

// Error is the structured failure returned by the client. Exactly one
// Error (or a success) comes out of every call.
type Error struct {
	Kind    ErrorKind
	Status  int           // HTTP status, set only for KindHTTP
	Message string        // human-readable, always set
	Elapsed time.Duration // set for KindTimeout
	Err     error         // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Kind == KindHTTP && e.Status != 0 {
		return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is a backend *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var be *Error
	return errors.As(err, &be) && be.Kind == kind
}

// IsTimeout reports whether err is a request deadline failure.
func IsTimeout(err error) bool { return IsKind(err, KindTimeout) }

// IsCancelled reports whether err is a caller-initiated cancellation.
func IsCancelled(err error) bool { return IsKind(err, KindCancelled) }

// IsUnreachable reports whether err is a connection-level failure.
func IsUnreachable(err error) bool { return IsKind(err, KindNetwork) }

// StatusOf returns the HTTP status carried by err, or 0 when err is
// not an HTTP error.
func StatusOf(err error) int {
	var be *Error
	if errors.As(err, &be) && be.Kind == KindHTTP {
		return be.Status
	}
	return 0
}

// ValidationError builds a client-side validation failure. No network
// call has been made when one of these is returned.
func ValidationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}
