package session

import (
	"errors"
	"fmt"
)

// Kind classifies session failures.
type Kind int

const (
	// KindUnknown is returned by KindOf for errors that did not originate in
	// a session.
	KindUnknown Kind = iota
	// KindConfiguration marks invalid initialization or request input.
	KindConfiguration
	// KindAccelerationUnavailable marks a compile failure or a model that is
	// not fully accelerated. There is no fallback.
	KindAccelerationUnavailable
	// KindBuffer marks buffer creation, size, read or write failures.
	KindBuffer
	// KindRuntime marks engine execution failures.
	KindRuntime
	// KindNotReady marks a request issued before Initialize completed or
	// after Close.
	KindNotReady
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "ConfigurationError"
	case KindAccelerationUnavailable:
		return "AccelerationUnavailable"
	case KindBuffer:
		return "BufferError"
	case KindRuntime:
		return "RuntimeError"
	case KindNotReady:
		return "NotReady"
	default:
		return "Unknown"
	}
}

// Error is the error type returned by Session operations.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind, so errors.Is(err, ErrNotReady) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrConfiguration           = &Error{Kind: KindConfiguration}
	ErrAccelerationUnavailable = &Error{Kind: KindAccelerationUnavailable}
	ErrBuffer                  = &Error{Kind: KindBuffer}
	ErrRuntime                 = &Error{Kind: KindRuntime}
	ErrNotReady                = &Error{Kind: KindNotReady}
)

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}
