package stream

import "errors"

// ErrorKind classifies relay failures.
type ErrorKind string

const (
	ValidationError ErrorKind = "ValidationError"
	UpstreamError   ErrorKind = "UpstreamError"
	TimeoutError    ErrorKind = "TimeoutError"
	AbortedError    ErrorKind = "AbortedError"
)

var (
	ErrValidation = &Error{Kind: ValidationError}
	ErrUpstream   = &Error{Kind: UpstreamError}
	ErrTimeout    = &Error{Kind: TimeoutError, Message: "relay call exceeded maximum duration"}
	ErrAborted    = &Error{Kind: AbortedError, Message: "relay call aborted by client"}
)

// Error is a classified relay failure. errors.Is matches any two Errors of the
// same kind, so callers compare against the package sentinels.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// NewError wraps err under kind.
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
