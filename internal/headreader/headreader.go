// Package headreader implements a bounded, streaming reader that captures an
// HTTP request head (everything up to and including the first CRLF CRLF)
// from a byte stream, without allocating and without knowing in advance how
// the sentinel is split across reads.
package headreader

import (
	"bytes"
	"errors"
	"io"
)

// Sentinel errors.
var (
	// ErrUnexpectedEOF means the peer closed the connection before a
	// complete CRLF CRLF sentinel was ever observed.
	ErrUnexpectedEOF = errors.New("head reader: unexpected eof before header end")
	// ErrHeaderTooLarge means the caller's buffer filled up without the
	// sentinel appearing anywhere in it.
	ErrHeaderTooLarge = errors.New("head reader: header exceeded buffer capacity")
)

var sentinel = []byte("\r\n\r\n")

// Read drains r into buf until the first occurrence of CRLF CRLF, or until
// buf is exhausted, or until r reports EOF. It returns the total number of
// bytes written into buf and the index just past the end of the sentinel
// (i.e. buf[:headerEnd] is the head, sentinel included).
//
// Read never allocates a new buffer; buf's capacity is the hard ceiling on
// how much head it will capture.
//
// The key correctness property is the 3-byte back-off: because the sentinel
// may straddle two reads, each scan covers not just the bytes from this read
// but the last 3 bytes of the previous one too. Scanning only the new chunk
// would miss a split sentinel; scanning from offset 0 every time would be
// quadratic in the number of reads. The back-off gives correctness at
// constant overhead per read.
func Read(r io.Reader, buf []byte) (total int, headerEnd int, err error) {
	pos := 0
	for pos < len(buf) {
		n, rerr := r.Read(buf[pos:])

		backoff := pos - 3
		if backoff < 0 {
			backoff = 0
		}
		pos += n

		if idx := bytes.Index(buf[backoff:pos], sentinel); idx >= 0 {
			return pos, backoff + idx + len(sentinel), nil
		}

		if n == 0 {
			if rerr != nil && rerr != io.EOF {
				return pos, 0, rerr
			}
			return pos, 0, ErrUnexpectedEOF
		}
		if rerr != nil && rerr != io.EOF {
			return pos, 0, rerr
		}
	}
	return pos, 0, ErrHeaderTooLarge
}
