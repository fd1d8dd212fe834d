package headreader

import (
	"bytes"
	"io"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// byteAtATimeReader returns one byte per Read call, regardless of the
// caller's buffer size, to exercise the worst-case fragmentation of the
// sentinel across reads.
type byteAtATimeReader struct {
	data []byte
	pos  int
}

func (r *byteAtATimeReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	p[0] = r.data[r.pos]
	r.pos++
	return 1, nil
}

// randomChunkReader returns between 1 and maxChunk bytes per Read call.
type randomChunkReader struct {
	data     []byte
	pos      int
	maxChunk int
	rnd      *rand.Rand
}

func (r *randomChunkReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := 1 + r.rnd.IntN(r.maxChunk)
	if n > len(p) {
		n = len(p)
	}
	if r.pos+n > len(r.data) {
		n = len(r.data) - r.pos
	}
	copy(p, r.data[r.pos:r.pos+n])
	r.pos += n
	return n, nil
}

func TestRead_FindsSplitSentinel_ByteAtATime(t *testing.T) {
	payload := "GET / HTTP/1.1\r\nHost: foo.com\r\n\r\nextra-body-bytes"
	reader := &byteAtATimeReader{data: []byte(payload)}
	buf := make([]byte, 16384)

	total, headerEnd, err := Read(reader, buf)
	require.NoError(t, err)

	// One byte per read: Read stops on the read that completes the
	// sentinel, so the trailing body bytes are never consumed.
	wantHeaderEnd := bytes.Index([]byte(payload), []byte("\r\n\r\n")) + 4
	assert.Equal(t, wantHeaderEnd, headerEnd)
	assert.Equal(t, wantHeaderEnd, total)
	assert.Equal(t, payload[:wantHeaderEnd], string(buf[:total]))
}

func TestRead_FindsSentinel_RandomChunks(t *testing.T) {
	payload := "GET /path HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"User-Agent: test\r\n" +
		"\r\n" +
		"trailing payload bytes that arrived in the same read"
	wantHeaderEnd := bytes.Index([]byte(payload), []byte("\r\n\r\n")) + 4

	seed := rand.NewPCG(1, 2)
	rnd := rand.New(seed)

	for chunk := 1; chunk <= 7; chunk++ {
		reader := &randomChunkReader{data: []byte(payload), maxChunk: chunk, rnd: rnd}
		buf := make([]byte, 16384)
		total, headerEnd, err := Read(reader, buf)
		require.NoError(t, err)
		assert.Equal(t, wantHeaderEnd, headerEnd)
		// The read that completes the sentinel returns at most chunk bytes,
		// and Read stops right after it.
		assert.Truef(t, total >= wantHeaderEnd && total < wantHeaderEnd+chunk,
			"chunk %d: total %d outside [%d, %d)", chunk, total, wantHeaderEnd, wantHeaderEnd+chunk)
		assert.Equal(t, payload[:total], string(buf[:total]))
	}
}

func TestRead_SentinelSplitAcrossBoundary(t *testing.T) {
	// Force the CRLFCRLF sentinel to straddle exactly two reads, at every
	// possible split point, to exercise the 3-byte back-off precisely.
	head := "GET / HTTP/1.1\r\nHost: foo.com\r\n\r\n"
	payload := head + "body"

	for split := 1; split < len(head); split++ {
		first := payload[:split]
		second := payload[split:]
		reader := io.MultiReader(bytes.NewReader([]byte(first)), bytes.NewReader([]byte(second)))
		buf := make([]byte, 16384)
		total, headerEnd, err := Read(reader, buf)
		require.NoErrorf(t, err, "split at %d", split)
		assert.Equalf(t, len(head), headerEnd, "split at %d", split)
		assert.Equalf(t, len(payload), total, "split at %d", split)
	}
}

func TestRead_HeaderTooLarge(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 16385)
	buf := make([]byte, 16384)

	_, _, err := Read(bytes.NewReader(payload), buf)
	assert.ErrorIs(t, err, ErrHeaderTooLarge)
}

func TestRead_UnexpectedEOF(t *testing.T) {
	payload := "GET / HTTP/1.1\r\nHost: foo.com\r\n"
	buf := make([]byte, 16384)

	_, _, err := Read(bytes.NewReader([]byte(payload)), buf)
	assert.ErrorIs(t, err, ErrUnexpectedEOF)
}

func TestRead_EmptyStream(t *testing.T) {
	buf := make([]byte, 16384)
	_, _, err := Read(bytes.NewReader(nil), buf)
	assert.ErrorIs(t, err, ErrUnexpectedEOF)
}
