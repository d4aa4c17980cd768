package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies signaling failures. Program logic branches on the
// kind only; Detail is for humans and the wire, never for branching.
type ErrorKind int

const (
	KindValidation ErrorKind = iota
	KindNotFound
	KindTransientJoin
	KindConflict
	KindEngine
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindTransientJoin:
		return "transient_join"
	case KindConflict:
		return "conflict"
	case KindEngine:
		return "engine"
	case KindFatal:
		return "fatal"
	}
	return "unknown"
}

// Error is the single error type crossing the core boundary.
type Error struct {
	Kind   ErrorKind
	Detail string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.cause }

// Message is the human-readable text sent over the wire. It deliberately
// excludes the wrapped cause's chain formatting for engine errors other than
// the engine's own message, and never includes stack traces.
func (e *Error) Message() string {
	if e.Kind == KindEngine && e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Detail, e.cause)
	}
	return e.Detail
}

func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Detail: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Detail: fmt.Sprintf(format, args...)}
}

func Conflictf(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Detail: fmt.Sprintf(format, args...)}
}

// ErrStillJoining is returned for a socket whose join has not completed yet.
// The caller should retry after the join response arrives.
var ErrStillJoining = &Error{Kind: KindTransientJoin, Detail: "Still joining room"}

func EngineErr(detail string, cause error) *Error {
	return &Error{Kind: KindEngine, Detail: detail, cause: cause}
}

// KindOf extracts the classification from any error; wrapped non-core
// errors count as engine failures.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindEngine
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == kind
}
