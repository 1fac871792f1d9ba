// Package gerr defines the error-kind hierarchy this library raises: typed,
// code-bearing errors for every failure category spec.md §7 names, so
// callers can discriminate with errors.Is/errors.As instead of string
// matching.
package gerr

import "fmt"

// Code classifies an Error the way nabbar/golib/errors.CodeError classifies
// theirs -- a small stable numeric tag, not an HTTP-style registry.
type Code uint16

const (
	CodeUnknown Code = iota
	CodeConnection
	CodeServerUnavailable
	CodeExceededAttempts
	CodeProtocol
	CodeInvalidState
	CodeUnknownCommand
)

func (c Code) String() string {
	switch c {
	case CodeConnection:
		return "connection"
	case CodeServerUnavailable:
		return "server_unavailable"
	case CodeExceededAttempts:
		return "exceeded_attempts"
	case CodeProtocol:
		return "protocol"
	case CodeInvalidState:
		return "invalid_state"
	case CodeUnknownCommand:
		return "unknown_command"
	default:
		return "unknown"
	}
}

// Error is a code-bearing error with an optional wrapped cause. Two Errors
// are Is-equal when their Code matches, regardless of Msg or Cause -- this
// lets callers test against the package-level sentinels below even though
// every call site builds its own Error value with call-specific detail.
type Error struct {
	Code  Code
	Msg   string
	Cause error
}

// New builds an Error. cause may be nil.
func New(code Code, msg string, cause error) *Error {
	return &Error{Code: code, Msg: msg, Cause: cause}
}

// Newf builds an Error with a formatted message and no cause.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is a *gerr.Error with the same Code. This is
// what lets errors.Is(err, gerr.ErrConnection) succeed for an err built with
// gerr.New(gerr.CodeConnection, "...", cause) at some unrelated call site.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is. Never returned directly -- every call site wraps
// call-specific detail in its own *Error of the matching Code.
var (
	ErrConnection        = &Error{Code: CodeConnection, Msg: "connection error"}
	ErrServerUnavailable = &Error{Code: CodeServerUnavailable, Msg: "no server available"}
	ErrExceededAttempts  = &Error{Code: CodeExceededAttempts, Msg: "exceeded connection attempts"}
	ErrProtocol          = &Error{Code: CodeProtocol, Msg: "protocol error"}
	ErrInvalidState      = &Error{Code: CodeInvalidState, Msg: "invalid state"}
	ErrUnknownCommand    = &Error{Code: CodeUnknownCommand, Msg: "unknown command"}
)
