// Package apperr defines the structured failures reported by the circulation
// engine. Every failure carries a Kind that tells the caller whether it can
// retry (Conflict) or has to correct the request (everything else), and a
// stable Code that identifies the exact rule that was violated.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	Internal Kind = iota
	NotFound
	InvalidState
	Forbidden
	LimitExceeded
	Conflict
	InvalidArgument
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case InvalidState:
		return "invalid_state"
	case Forbidden:
		return "forbidden"
	case LimitExceeded:
		return "limit_exceeded"
	case Conflict:
		return "conflict"
	case InvalidArgument:
		return "invalid_argument"
	default:
		return "internal"
	}
}

// ParseKind is the inverse of Kind.String. Unknown names map to Internal.
func ParseKind(s string) Kind {
	for k := Internal; k <= InvalidArgument; k++ {
		if k.String() == s {
			return k
		}
	}
	return Internal
}

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Code    string
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches targets of type *Error by Code, or by Kind when the target has no Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" {
		return e.Code == t.Code
	}
	return e.Kind == t.Kind
}

// With returns a copy of e carrying the operation name and a detail message.
func (e *Error) With(op, format string, args ...any) *Error {
	c := *e
	c.Op = op
	if format != "" {
		c.Message = e.Message + ": " + fmt.Sprintf(format, args...)
	}
	return &c
}

// Wrap returns a copy of e that wraps cause.
func (e *Error) Wrap(op string, cause error) *Error {
	c := *e
	c.Op = op
	c.Err = cause
	return &c
}

// New creates an error of the given kind.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// KindOf extracts the Kind of err. Errors not produced by this package are Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// CodeOf extracts the Code of err, or "" if err is not classified.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether the caller may retry the same request unchanged.
// Only lost concurrency races qualify.
func IsRetryable(err error) bool {
	return IsKind(err, Conflict)
}
