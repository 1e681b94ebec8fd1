package kawasaki

import (
	"errors"
	"fmt"
)

// ErrorType classifies backup session failures.
type ErrorType int

const (
	// ErrConnect indicates the transport could not be established within
	// the configured number of attempts.
	ErrConnect ErrorType = iota
	// ErrHandshakeTimeout indicates an expected handshake marker did not
	// arrive before its deadline.
	ErrHandshakeTimeout
	// ErrDeviceBusy indicates the controller refused the SAVE because
	// another save or load already holds it.
	ErrDeviceBusy
	// ErrCancelled indicates the session was aborted on request.
	ErrCancelled
	// ErrTransport indicates the connection failed mid-session.
	ErrTransport
	// ErrOutputWrite indicates the backup file or the debug capture could
	// not be written.
	ErrOutputWrite
)

// String returns a short name for the error type.
func (t ErrorType) String() string {
	switch t {
	case ErrConnect:
		return "connect failure"
	case ErrHandshakeTimeout:
		return "handshake timeout"
	case ErrDeviceBusy:
		return "device busy"
	case ErrCancelled:
		return "cancelled"
	case ErrTransport:
		return "transport failure"
	case ErrOutputWrite:
		return "output write failure"
	default:
		return fmt.Sprintf("unknown error type %d", int(t))
	}
}

// Error is the failure type reported by a backup session. Every error
// returned by Client.Run is of this type; Cause, when present, preserves
// the underlying I/O error for errors.Is and errors.As.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
}

// NewError creates a session error of the given type.
func NewError(t ErrorType, message string) *Error {
	return &Error{Type: t, Message: message}
}

// WrapError creates a session error that preserves its cause.
func WrapError(t ErrorType, message string, cause error) *Error {
	return &Error{Type: t, Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("kawasaki: %s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("kawasaki: %s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.Cause }

func isType(err error, t ErrorType) bool {
	var se *Error
	return errors.As(err, &se) && se.Type == t
}

// IsConnectFailure reports whether err is a connection establishment failure.
func IsConnectFailure(err error) bool { return isType(err, ErrConnect) }

// IsTimeout reports whether err is a handshake timeout.
func IsTimeout(err error) bool { return isType(err, ErrHandshakeTimeout) }

// IsDeviceBusy reports whether err means the controller was already serving
// a save or load.
func IsDeviceBusy(err error) bool { return isType(err, ErrDeviceBusy) }

// IsCancelled reports whether err is a user-requested abort.
func IsCancelled(err error) bool { return isType(err, ErrCancelled) }

// IsTransportFailure reports whether err is a mid-session connection failure.
func IsTransportFailure(err error) bool { return isType(err, ErrTransport) }

// IsOutputWriteFailure reports whether err is a local file write failure.
func IsOutputWriteFailure(err error) bool { return isType(err, ErrOutputWrite) }
