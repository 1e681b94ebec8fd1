package kawasaki

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// Read batch sizes. Handshake waits read small chunks because the monitor
// prompts are short; the record stream reads larger batches.
const (
	handshakeChunkSize = 1024
	streamChunkSize    = 4096
)

// matcher locates a protocol marker in accumulated handshake input. The
// name appears in log lines and timeout errors.
type matcher struct {
	name string
	fn   func(buf []byte) bool
}

func (m matcher) match(buf []byte) bool { return m.fn(buf) }

// containsMatcher matches once the marker bytes appear anywhere in the
// accumulated input.
func containsMatcher(name string, marker []byte) matcher {
	return matcher{
		name: name,
		fn:   func(buf []byte) bool { return bytes.Contains(buf, marker) },
	}
}

// waitForMarker accumulates input until the matcher is satisfied or the
// deadline passes. The deadline is absolute for the whole wait, not per
// read, so a peer trickling irrelevant bytes cannot stall the handshake
// forever. Every byte received is written to the capture before any
// matching.
//
// A missed deadline is fatal here: the controller speaks its handshake
// promptly or not at all. A connection closed mid-wait is a transport
// failure, not a timeout.
func waitForMarker(conn net.Conn, m matcher, timeout time.Duration, capture io.Writer, logger Logger) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 0, handshakeChunkSize)
	chunk := make([]byte, handshakeChunkSize)

	for {
		if m.match(buf) {
			logger.Debug("matched %s after %d bytes: %s", m.name, len(buf), formatData(buf))
			return buf, nil
		}

		if err := conn.SetReadDeadline(deadline); err != nil {
			return buf, WrapError(ErrTransport, "setting read deadline", err)
		}

		n, err := conn.Read(chunk)
		if n > 0 {
			if _, werr := capture.Write(chunk[:n]); werr != nil {
				return buf, WrapError(ErrOutputWrite, "writing debug capture", werr)
			}
			buf = append(buf, chunk[:n]...)
			continue
		}
		if err != nil {
			if isTimeout(err) {
				logger.Error("timed out waiting for %s, got %s", m.name, formatData(buf))
				return buf, NewError(ErrHandshakeTimeout,
					fmt.Sprintf("no %s within %v", m.name, timeout))
			}
			if errors.Is(err, io.EOF) {
				return buf, NewError(ErrTransport, "connection closed while waiting for "+m.name)
			}
			return buf, WrapError(ErrTransport, "read failed while waiting for "+m.name, err)
		}
	}
}

// readChunk performs one bounded read of the record stream. Unlike the
// handshake wait, a deadline expiry is routine here: long saves have quiet
// stretches while the controller assembles the next block, so a timeout or
// a cleanly closed peer yields an empty chunk and the caller keeps looping.
// Only an unexpected I/O failure is returned as an error.
func readChunk(conn net.Conn, buf []byte, timeout time.Duration) ([]byte, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}

	n, err := conn.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err != nil {
		if isTimeout(err) || errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	return nil, nil
}

// sendBytes writes a handshake element with a bounded write deadline.
func sendBytes(conn net.Conn, data []byte, timeout time.Duration) error {
	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return WrapError(ErrTransport, "setting write deadline", err)
	}
	if _, err := conn.Write(data); err != nil {
		return WrapError(ErrTransport, "send failed", err)
	}
	return nil
}

func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
