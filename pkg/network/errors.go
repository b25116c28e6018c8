package network

import (
	"fmt"
	"time"
)

// Error codes reported by the manager, the handlers and the HTTP codec
const (
	CodeHandlerUnavailable = 1
	CodeInitializeFailed   = 2
	CodeConnectionNotFound = 3
	CodeInvalidURL         = 4
	CodeReceiveFailed      = 5
	CodeMalformedResponse  = 6
	CodeConnectionClosing  = 7
	CodeNotConnected       = 8
	CodeTransportFailure   = 9
)

// Error is a structured network error. The most recent failure is recorded
// on the object that detected it and overwritten by the next one; callers
// that need history must capture LastError immediately after a failed call.
type Error struct {
	Code      int       `json:"code"`
	Message   string    `json:"message"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Cause     error     `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%d] %s: %s: %v", e.Code, e.Source, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%d] %s: %s", e.Code, e.Source, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates an error with the given code, originating operation and
// message
func NewError(code int, source, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Source:    source,
		Timestamp: time.Now(),
	}
}

// WrapError creates an error that records an underlying cause
func WrapError(err error, code int, source, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Source:    source,
		Timestamp: time.Now(),
		Cause:     err,
	}
}
