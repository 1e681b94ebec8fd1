package kawasaki

import (
	"bytes"
	"io"
	"net"
	"strings"
	"time"
)

// handshake drives the fixed exchange that precedes the record stream:
// login, AUX channel prompt, SAVE command, backup header, acknowledgement.
// Each wait runs under its own absolute deadline; a step that does not
// complete in time fails the session rather than stalling it.
type handshake struct {
	conn      net.Conn
	cfg       *Config
	callbacks *Callbacks
	logger    Logger
	capture   io.Writer
	safeName  string
}

// sendAndWait emits a status line, sends data, then waits for the marker.
func (h *handshake) sendAndWait(status string, data []byte, m matcher) ([]byte, error) {
	h.callbacks.emitStatus(status)
	if err := sendBytes(h.conn, data, h.cfg.ReadTimeout); err != nil {
		return nil, err
	}
	return waitForMarker(h.conn, m, h.cfg.ReadTimeout, h.capture, h.logger)
}

// waitFor emits a status line, then waits for the marker.
func (h *handshake) waitFor(status string, m matcher) ([]byte, error) {
	h.callbacks.emitStatus(status)
	return waitForMarker(h.conn, m, h.cfg.ReadTimeout, h.capture, h.logger)
}

func (h *handshake) run() error {
	// Login. The username goes out first; the monitor answers with its
	// login prompt once the AUX terminal service picks the session up.
	_, err := h.sendAndWait("Sending login credentials...",
		[]byte(h.cfg.Username+"\r\n"),
		containsMatcher("login prompt", loginPrompt))
	if err != nil {
		return err
	}

	// AUX channel prompt, e.g. "AUX1".
	if _, err := h.waitFor("Waiting for AUX prompt...", auxChannelMatcher()); err != nil {
		return err
	}

	// SAVE command.
	cmd := saveCommand(h.safeName, h.cfg.Full)
	h.callbacks.emitStatus("Issuing SAVE command: " + strings.TrimSpace(string(cmd)))
	if err := sendBytes(h.conn, cmd, h.cfg.ReadTimeout); err != nil {
		return err
	}

	// The controller answers with either the backup header echoing the
	// transfer name or a notice that another save or load holds it. The
	// busy notice wins when the same read carries both.
	buf, err := h.waitFor("Waiting for header or in-progress message...",
		headerOrBusyMatcher(backupHeader(h.safeName)))
	if err != nil {
		return err
	}
	if bytes.Contains(buf, busyNotice) {
		h.callbacks.emitStatus("Another backup in progress; aborting.")
		return NewError(ErrDeviceBusy, "another save/load is in progress on the controller")
	}

	// Acknowledge the header. The pause gives the controller time to arm
	// its transfer side before the secondary header lands.
	h.callbacks.emitStatus("Handshake: ACK + secondary header...")
	if err := sendBytes(h.conn, ackByte, h.cfg.ReadTimeout); err != nil {
		return err
	}
	time.Sleep(handshakePause)
	return sendBytes(h.conn, secondHeader, h.cfg.ReadTimeout)
}

// auxChannelMatcher matches the AUX prompt: the text "AUX" immediately
// followed by a channel digit.
func auxChannelMatcher() matcher {
	return matcher{
		name: "AUX channel prompt",
		fn: func(buf []byte) bool {
			from := 0
			for {
				i := bytes.Index(buf[from:], auxPrefix)
				if i < 0 {
					return false
				}
				j := from + i + len(auxPrefix)
				if j < len(buf) && buf[j] >= '0' && buf[j] <= '9' {
					return true
				}
				from = from + i + 1
			}
		},
	}
}

// headerOrBusyMatcher matches the backup header for this transfer or the
// save/load busy notice, whichever arrives.
func headerOrBusyMatcher(header []byte) matcher {
	return matcher{
		name: "backup header or busy notice",
		fn: func(buf []byte) bool {
			return bytes.Contains(buf, busyNotice) || bytes.Contains(buf, header)
		},
	}
}
