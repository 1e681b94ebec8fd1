package kawasaki

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := NewError(ErrDeviceBusy, "another save/load is in progress on the controller")
	assert.Equal(t, "kawasaki: device busy: another save/load is in progress on the controller", err.Error())

	cause := errors.New("connection refused")
	wrapped := WrapError(ErrConnect, "could not connect to 10.0.0.1:23 after 3 attempts", cause)
	assert.Contains(t, wrapped.Error(), "connect failure")
	assert.Contains(t, wrapped.Error(), "connection refused")
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("broken pipe")
	err := WrapError(ErrTransport, "send failed", cause)

	require.True(t, errors.Is(err, cause))

	var se *Error
	require.True(t, errors.As(fmt.Errorf("session: %w", err), &se))
	assert.Equal(t, ErrTransport, se.Type)
}

func TestErrorPredicates(t *testing.T) {
	busy := NewError(ErrDeviceBusy, "x")
	assert.True(t, IsDeviceBusy(busy))
	assert.False(t, IsTimeout(busy))
	assert.False(t, IsCancelled(busy))

	timeout := NewError(ErrHandshakeTimeout, "x")
	assert.True(t, IsTimeout(timeout))
	assert.False(t, IsDeviceBusy(timeout))

	assert.True(t, IsConnectFailure(NewError(ErrConnect, "x")))
	assert.True(t, IsCancelled(NewError(ErrCancelled, "x")))
	assert.True(t, IsTransportFailure(NewError(ErrTransport, "x")))
	assert.True(t, IsOutputWriteFailure(NewError(ErrOutputWrite, "x")))

	// Predicates see through wrapping.
	assert.True(t, IsCancelled(fmt.Errorf("run: %w", NewError(ErrCancelled, "x"))))

	assert.False(t, IsDeviceBusy(errors.New("plain error")))
	assert.False(t, IsDeviceBusy(nil))
}

func TestErrorTypeString(t *testing.T) {
	assert.Equal(t, "handshake timeout", ErrHandshakeTimeout.String())
	assert.Equal(t, "cancelled", ErrCancelled.String())
	assert.Contains(t, ErrorType(99).String(), "unknown")
}
