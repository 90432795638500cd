// Package corerr defines the closed set of error kinds the core control
// plane surfaces across its IPC routes.
package corerr

import (
	"errors"
	"fmt"
)

// Kind is one of the nine error kinds the core ever returns.
type Kind string

const (
	InvalidArgument Kind = "invalid_argument"
	NotFound        Kind = "not_found"
	Exists          Kind = "exists"
	InvalidState    Kind = "invalid_state"
	Unsupported     Kind = "unsupported"
	Interrupted     Kind = "interrupted"
	Integrity       Kind = "integrity"
	Timeout         Kind = "timeout"
	InternalError   Kind = "internal_error"
)

// Error carries a Kind alongside a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Wrapped }

func new_(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func InvalidArgumentf(format string, args ...any) *Error { return new_(InvalidArgument, format, args...) }
func NotFoundf(format string, args ...any) *Error        { return new_(NotFound, format, args...) }
func Existsf(format string, args ...any) *Error          { return new_(Exists, format, args...) }
func InvalidStatef(format string, args ...any) *Error    { return new_(InvalidState, format, args...) }
func Unsupportedf(format string, args ...any) *Error     { return new_(Unsupported, format, args...) }
func Interruptedf(format string, args ...any) *Error     { return new_(Interrupted, format, args...) }
func Integrityf(format string, args ...any) *Error       { return new_(Integrity, format, args...) }
func Timeoutf(format string, args ...any) *Error         { return new_(Timeout, format, args...) }
func Internalf(format string, args ...any) *Error        { return new_(InternalError, format, args...) }

// Wrap attaches a Kind to an existing error, preserving it as the cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Wrapped: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// KindOf returns the Kind of err, or InternalError if err is not a *Error.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return InternalError
}
