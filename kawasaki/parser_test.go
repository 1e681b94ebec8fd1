package kawasaki

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(p *recordParser) []byte {
	var out []byte
	for {
		payload, ok := p.next()
		if !ok {
			return out
		}
		out = append(out, payload...)
	}
}

func TestRecordParserSingleRecord(t *testing.T) {
	p := &recordParser{}
	p.feed([]byte("\x05\x02Dhello\r"))

	payload, ok := p.next()
	require.True(t, ok)
	assert.Equal(t, []byte("hello\r\n"), payload)

	_, ok = p.next()
	assert.False(t, ok)
	assert.Equal(t, 0, p.pending())
}

func TestRecordParserEscapePrefix(t *testing.T) {
	p := &recordParser{}
	p.feed([]byte("\x17\x05\x02D.PROGRAM main()\r"))

	payload, ok := p.next()
	require.True(t, ok)
	assert.Equal(t, []byte(".PROGRAM main()\r\n"), payload)
	assert.Equal(t, 0, p.pending())
}

func TestRecordParserEmptyPayload(t *testing.T) {
	p := &recordParser{}
	p.feed([]byte{ENQ, STX, 'D', CR})

	payload, ok := p.next()
	require.True(t, ok)
	assert.Equal(t, []byte("\r\n"), payload)
}

func TestRecordParserDiscardsChatterBeforeRecord(t *testing.T) {
	p := &recordParser{}
	p.feed([]byte("AUX1> some terminal echo\r\n\x05\x02Dpayload\r"))

	payload, ok := p.next()
	require.True(t, ok)
	assert.Equal(t, []byte("payload\r\n"), payload)
	assert.Equal(t, 0, p.pending())
}

func TestRecordParserSkipsMarkerWithoutTerminator(t *testing.T) {
	// A marker whose run hits LF before any CR is terminal echo, not a
	// record; the real record after it must still come out, and the echo
	// bytes go away with the consumed span.
	p := &recordParser{}
	p.feed([]byte("\x05\x02Dbroken\necho\x05\x02Dgood\r"))

	payload, ok := p.next()
	require.True(t, ok)
	assert.Equal(t, []byte("good\r\n"), payload)
	assert.Equal(t, 0, p.pending())

	_, ok = p.next()
	assert.False(t, ok)
}

func TestRecordParserKeepsIncompleteRecordBuffered(t *testing.T) {
	p := &recordParser{}
	p.feed([]byte("\x05\x02Dpart"))

	_, ok := p.next()
	require.False(t, ok)

	p.feed([]byte("ial\r"))
	payload, ok := p.next()
	require.True(t, ok)
	assert.Equal(t, []byte("partial\r\n"), payload)
}

func TestRecordParserMultipleRecordsInOneChunk(t *testing.T) {
	p := &recordParser{}
	p.feed([]byte("\x05\x02Done\r\x17\x05\x02Dtwo\r\x05\x02Dthree\r"))

	assert.Equal(t, []byte("one\r\ntwo\r\nthree\r\n"), drain(p))
	assert.Equal(t, 0, p.pending())
}

func TestRecordParserFragmentationIndependence(t *testing.T) {
	stream := []byte("junk\x05\x02D.PROGRAM a()\r\x17\x05\x02D  SPEED 50\r\x05\x02D.END\r")

	whole := &recordParser{}
	whole.feed(stream)
	want := drain(whole)

	for split := 1; split < len(stream); split++ {
		p := &recordParser{}
		p.feed(stream[:split])
		got := drain(p)
		p.feed(stream[split:])
		got = append(got, drain(p)...)
		assert.Equal(t, want, got, "split at %d", split)
	}
}

func TestRecordParserEOT(t *testing.T) {
	p := &recordParser{}
	p.feed([]byte("\x05\x02Dlast\r\x05\x02E\x17"))

	// Records arriving in the same chunk as the end marker are decoded
	// before the marker is considered.
	payload, ok := p.next()
	require.True(t, ok)
	assert.Equal(t, []byte("last\r\n"), payload)
	assert.True(t, p.sawEOT())
}

func TestRecordParserEOTSplitAcrossChunks(t *testing.T) {
	p := &recordParser{}
	p.feed([]byte{ENQ, STX, 'E'})
	assert.False(t, p.sawEOT())

	p.feed([]byte{ETB})
	assert.True(t, p.sawEOT())
}

func TestRecordParserEOTWithTrailingBytes(t *testing.T) {
	p := &recordParser{}
	p.feed([]byte("\x05\x02Ddone\r\x05\x02E\x17\r\nAUX1> "))

	assert.Equal(t, []byte("done\r\n"), drain(p))
	assert.True(t, p.sawEOT())
}

func TestRecordParserEOTBytesInsidePayloadAreData(t *testing.T) {
	payload := append([]byte("data "), eotMarker...)
	payload = append(payload, []byte(" more")...)
	rec := append(append([]byte{}, recordStart...), payload...)
	rec = append(rec, CR)

	p := &recordParser{}
	p.feed(rec)

	got, ok := p.next()
	require.True(t, ok)
	assert.Equal(t, append(payload, CR, LF), got)
	assert.False(t, p.sawEOT(), "end marker consumed as record data must not end the transfer")
}

func TestRecordParserOnlyDataMarkerStartsRecord(t *testing.T) {
	// A span opened with the end-marker discriminator 'E' is not a data
	// record; its bytes are discarded, not decoded.
	p := &recordParser{}
	p.feed([]byte("\x05\x02Dhello\r\x05\x02Eworld\r"))

	assert.Equal(t, []byte("hello\r\n"), drain(p))
	assert.False(t, p.sawEOT())

	p.feed(eotMarker)
	assert.Nil(t, drain(p))
	assert.True(t, p.sawEOT())
}

func TestRecordParserNoFalseRecordWithoutMarker(t *testing.T) {
	p := &recordParser{}
	p.feed([]byte("plain text with a \r terminator\r\n"))

	_, ok := p.next()
	assert.False(t, ok)
	assert.True(t, bytes.Contains(p.buf, []byte("plain text")))
}
