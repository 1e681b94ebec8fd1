// Package kawasaki implements the backup transfer protocol spoken by
// Kawasaki robot controllers over their raw telnet terminal service.
//
// The controller exposes an AS monitor on TCP port 23. After a plain-text
// login and an AUX channel prompt, a SAVE command makes the controller
// stream the program/data image as a sequence of marker-delimited records,
// closed by a fixed end-of-transfer sequence. This package drives that
// exchange end to end: connection with bounded retries, the fixed handshake,
// and the streaming decode loop that turns the record stream into an .as
// file while capturing every raw byte for post-hoc diagnosis.
//
// The package is designed as a library with callback hooks for status,
// progress, error, and completion events; the kawabackup command wraps it
// for interactive use.
package kawasaki

import (
	"strings"
	"time"
)

// Terminal control bytes used by the AS monitor framing.
const (
	ENQ = 0x05 // enquiry, begins every framing marker
	STX = 0x02 // start of text, second byte of every framing marker
	EOT = 0x04 // end of transmission (unused by SAVE, listed for reference)
	ACK = 0x06 // acknowledgement sent after the backup header
	ETB = 0x17 // end of transmission block, closes headers and may prefix records
	CR  = '\r'
	LF  = '\n'
)

// Framing markers. Each marker is ENQ STX plus a discriminator letter:
// 'B' opens the backup header, 'D' opens a data record, 'E' ends the
// transfer.
var (
	headerStart = []byte{ENQ, STX, 'B'}
	recordStart = []byte{ENQ, STX, 'D'}
	eotMarker   = []byte{ENQ, STX, 'E', ETB}

	// secondHeader is the fixed acknowledgement block the controller
	// expects after the backup header: STX 'B', four spaces, '0', ETB.
	secondHeader = []byte{STX, 'B', ' ', ' ', ' ', ' ', '0', ETB}

	ackByte = []byte{ACK}
)

// Text markers emitted by the monitor around the handshake.
var (
	loginPrompt = []byte("login:")
	auxPrefix   = []byte("AUX") // followed by the channel digit
	busyNotice  = []byte("SAVE/LOAD in progress")
)

// handshakePause is the settle time the controller needs between the
// acknowledgement byte and the secondary header.
const handshakePause = 50 * time.Millisecond

// OutputExt is the extension of the decoded backup file. The controller
// names the transfer <name>.as in program-only and full mode alike, so the
// local artifact follows suit.
const OutputExt = "as"

// saveCommand builds the SAVE command line for the given sanitized base
// name. Full mode requests the complete controller image via the /Full
// qualifier; otherwise only the program data is saved.
func saveCommand(name string, full bool) []byte {
	cmd := "SAVE"
	if full {
		cmd += "/Full"
	}
	return []byte(cmd + " " + name + "\r\n")
}

// backupHeader builds the header marker the controller sends once it
// accepts a SAVE: the header start, the transfer name with extension, and
// a closing ETB.
func backupHeader(name string) []byte {
	hdr := make([]byte, 0, len(headerStart)+len(name)+len(OutputExt)+2)
	hdr = append(hdr, headerStart...)
	hdr = append(hdr, name...)
	hdr = append(hdr, '.')
	hdr = append(hdr, OutputExt...)
	hdr = append(hdr, ETB)
	return hdr
}

// SanitizeBaseName maps a requested backup name onto the character set the
// controller and the local filesystem both accept: every byte outside
// [A-Za-z0-9_.-] becomes an underscore.
func SanitizeBaseName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '_' || r == '.' || r == '-':
			return r
		}
		return '_'
	}, name)
}
