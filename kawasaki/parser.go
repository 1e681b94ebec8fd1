package kawasaki

import "bytes"

// recordParser accumulates raw transport bytes and extracts complete data
// records in arrival order.
//
// A record on the wire is the record marker (ENQ STX 'D'), a run of payload
// bytes free of CR and LF, and a terminating CR. Records may arrive with an
// ETB flush byte glued in front and with arbitrary terminal chatter between
// them; anything before a record's marker is discarded when the record is
// consumed. Decoding rewrites the bare CR terminator to CRLF so the .as
// file matches what the controller's own serial dump tools produce.
//
// The parser is purely incremental: feed it chunks however the transport
// fragments them and it yields exactly the records whose terminator has
// arrived, keeping any trailing partial record buffered for the next feed.
type recordParser struct {
	buf []byte
}

// feed appends a chunk of raw transport bytes.
func (p *recordParser) feed(chunk []byte) {
	p.buf = append(p.buf, chunk...)
}

// next extracts the earliest complete record, returning its decoded payload
// and true, or nil and false when no complete record is buffered. The
// record, and everything buffered before it, is consumed.
func (p *recordParser) next() ([]byte, bool) {
	from := 0
	for {
		i := bytes.Index(p.buf[from:], recordStart)
		if i < 0 {
			return nil, false
		}
		start := from + i + len(recordStart)

		// Scan the payload run. It ends at the first CR; a LF before any
		// CR means this marker did not open a real record (the monitor
		// echoes the marker bytes inside ordinary terminal output), so
		// the search resumes past it.
		j := start
		for j < len(p.buf) && p.buf[j] != CR && p.buf[j] != LF {
			j++
		}
		if j == len(p.buf) {
			// Terminator not received yet.
			return nil, false
		}
		if p.buf[j] == LF {
			from = start
			continue
		}

		payload := make([]byte, 0, j-start+2)
		payload = append(payload, p.buf[start:j]...)
		payload = append(payload, CR, LF)

		p.buf = p.buf[j+1:]
		return payload, true
	}
}

// sawEOT reports whether the end-of-transfer marker is present in the
// remaining buffered bytes. Call it only after draining next, so records
// that arrived in the same chunk as the marker are not lost.
func (p *recordParser) sawEOT() bool {
	return bytes.Contains(p.buf, eotMarker)
}

// pending returns how many raw bytes are buffered but not yet consumed.
func (p *recordParser) pending() int {
	return len(p.buf)
}
