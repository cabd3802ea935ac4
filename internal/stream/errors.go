package stream

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced to clients.
type ErrorKind string

const (
	// KindInvalidWindow marks malformed or undecodable audio. Terminal.
	KindInvalidWindow ErrorKind = "invalid_window"

	// KindResourceExhausted marks a capacity rejection or an oversized chunk.
	KindResourceExhausted ErrorKind = "resource_exhausted"

	// KindClassifierTimeout marks a classifier call that exceeded its bound.
	// Recoverable per window.
	KindClassifierTimeout ErrorKind = "classifier_timeout"

	// KindClassifierFailed marks any other classifier error. Recoverable per
	// window.
	KindClassifierFailed ErrorKind = "classifier_failed"

	// KindTransport marks a send or receive failure. Terminal, no retry.
	KindTransport ErrorKind = "transport"
)

// Sentinel errors matching each [ErrorKind]. An [*Error] unwraps to the
// sentinel of its kind so callers can use [errors.Is].
var (
	ErrInvalidWindow     = errors.New("stream: invalid window")
	ErrResourceExhausted = errors.New("stream: resource exhausted")
	ErrClassifierTimeout = errors.New("stream: classifier timeout")
	ErrClassifierFailed  = errors.New("stream: classifier failed")
	ErrTransport         = errors.New("stream: transport error")
	ErrSessionNotFound   = errors.New("stream: session not found")
	ErrManagerClosed     = errors.New("stream: manager is shut down")
)

// Recoverable reports whether an error of this kind affects only the window
// that produced it.
func (k ErrorKind) Recoverable() bool {
	return k == KindClassifierTimeout || k == KindClassifierFailed
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindInvalidWindow:
		return ErrInvalidWindow
	case KindResourceExhausted:
		return ErrResourceExhausted
	case KindClassifierTimeout:
		return ErrClassifierTimeout
	case KindClassifierFailed:
		return ErrClassifierFailed
	case KindTransport:
		return ErrTransport
	}
	return nil
}

// Error is a classified failure. Err holds the underlying cause and may be
// nil.
type Error struct {
	Kind ErrorKind
	Err  error
}

// NewError returns an [*Error] of kind wrapping err.
func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap returns the kind's sentinel and the cause.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf extracts the [ErrorKind] from err. ok is false when err does not
// wrap an [*Error] or one of the kind sentinels.
func KindOf(err error) (kind ErrorKind, ok bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	for _, k := range []ErrorKind{
		KindInvalidWindow, KindResourceExhausted, KindClassifierTimeout,
		KindClassifierFailed, KindTransport,
	} {
		if errors.Is(err, k.sentinel()) {
			return k, true
		}
	}
	return "", false
}
