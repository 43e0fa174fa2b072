// Package apperr defines the structured errors shared by the storage, patch
// and transport layers.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable error category.
type Kind string

// Error kinds.
const (
	KindPathEscape      Kind = "PATH_ESCAPE"
	KindReadOnly        Kind = "READ_ONLY_MODE"
	KindBlockNotFound   Kind = "BOUNDARY_NOT_FOUND"
	KindStaleBlock      Kind = "STALE_BLOCK"
	KindOutOfBoundWrite Kind = "OUT_OF_BOUND_WRITE"
	KindUnsupportedMode Kind = "UNSUPPORTED_MODE"
	KindNotFound        Kind = "NOT_FOUND"
	KindInvalidParams   Kind = "INVALID_PARAMS"
	KindInternal        Kind = "INTERNAL"
)

// Sentinels for errors.Is checks. Any *Error of the same Kind matches.
var (
	ErrPathEscape      = &Error{Kind: KindPathEscape}
	ErrReadOnly        = &Error{Kind: KindReadOnly}
	ErrBlockNotFound   = &Error{Kind: KindBlockNotFound}
	ErrStaleBlock      = &Error{Kind: KindStaleBlock}
	ErrOutOfBoundWrite = &Error{Kind: KindOutOfBoundWrite}
	ErrUnsupportedMode = &Error{Kind: KindUnsupportedMode}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrInvalidParams   = &Error{Kind: KindInvalidParams}
	ErrInternal        = &Error{Kind: KindInternal}
)

// Error carries a Kind, a human-readable message, contextual data
// (paths, ids, digests) and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Data    map[string]any
	Err     error
}

// New returns a structured error of the given kind.
func New(kind Kind, msg string, data map[string]any) *Error {
	return &Error{Kind: kind, Message: msg, Data: data}
}

// Newf is New with a formatted message and no data.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps an unexpected failure.
func Internal(err error, msg string) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindInternal for unstructured errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Payload flattens err into a JSON-friendly map with "code" and "message"
// plus any contextual data.
func Payload(err error) map[string]any {
	out := map[string]any{
		"code":    string(KindOf(err)),
		"message": err.Error(),
	}
	var e *Error
	if errors.As(err, &e) {
		for k, v := range e.Data {
			out[k] = v
		}
	}
	return out
}
