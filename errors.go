package rxm

import (
	"errors"
	"fmt"
)

// ErrorCode represents the abstract error taxonomy of the endpoint core
// (resource exhaustion, protocol errors, caller misuse, and transport
// passthrough). It is distinct from the transport's own error type.
type ErrorCode string

const (
	CodeNoMemory       ErrorCode = "no memory"
	CodeAgain          ErrorCode = "resource temporarily unavailable"
	CodeMsgTooLarge    ErrorCode = "message too large"
	CodeCanceled       ErrorCode = "operation canceled"
	CodeNoCQ           ErrorCode = "no completion queue bound"
	CodeBadState       ErrorCode = "invalid endpoint state"
	CodeInval          ErrorCode = "invalid argument"
	CodeUnsupported    ErrorCode = "unsupported operation"
	CodeTransportError ErrorCode = "transport error"
)

// Error is a structured rxm error with enough context to log or to
// translate back into a completion.
type Error struct {
	Op    string    // operation that failed, e.g. "send", "trecv", "close"
	Code  ErrorCode // high-level category
	Msg   string    // human-readable detail
	Inner error     // wrapped error, e.g. a transport error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Op != "" {
		return fmt.Sprintf("rxm: %s: %s", e.Op, msg)
	}
	return fmt.Sprintf("rxm: %s", msg)
}

func (e *Error) Unwrap() error { return e.Inner }

// Is supports errors.Is against both other *Error values (compared by
// Code) and the legacy sentinel codeError values below.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if ce, ok := target.(codeError); ok {
		return e.Code == ErrorCode(ce)
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// codeError is a lightweight sentinel error usable with errors.Is without
// constructing a full *Error, e.g. errors.Is(err, ErrAgain).
type codeError ErrorCode

func (c codeError) Error() string { return string(c) }

// Sentinel errors for the taxonomy in §7. Compare with errors.Is, not ==,
// since a returned error is usually a *Error wrapping one of these codes.
var (
	ErrNoMemory       = codeError(CodeNoMemory)
	ErrAgain          = codeError(CodeAgain)
	ErrMsgTooLarge    = codeError(CodeMsgTooLarge)
	ErrCanceled       = codeError(CodeCanceled)
	ErrNoCQ           = codeError(CodeNoCQ)
	ErrBadState       = codeError(CodeBadState)
	ErrInval          = codeError(CodeInval)
	ErrUnsupported    = codeError(CodeUnsupported)
	ErrTransportError = codeError(CodeTransportError)
)

// NewError builds a structured error for op with the given code and message.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// WrapTransportError wraps a transport-originated error as CodeTransportError.
func WrapTransportError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if e, ok := inner.(*Error); ok {
		return e
	}
	return &Error{Op: op, Code: CodeTransportError, Msg: inner.Error(), Inner: inner}
}

// IsCode reports whether err is (or wraps) an *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsTransportError reports whether err originated from the transport.
func IsTransportError(err error) bool {
	return IsCode(err, CodeTransportError)
}
