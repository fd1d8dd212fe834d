// Package httphead extracts fields from a captured HTTP request head.
package httphead

import (
	"bytes"
	"errors"
)

// ErrNoHost means no line beginning "Host:" (case-insensitive) was found.
var ErrNoHost = errors.New("httphead: no Host header found")

// ErrBadRequestLine means the first line of the head did not match
// "METHOD SP URI SP VERSION".
var ErrBadRequestLine = errors.New("httphead: malformed request line")

// ExtractHost case-insensitively locates a line beginning "Host:" and
// returns the value after it verbatim: one space directly after the colon
// is skipped if present (a line "Host:value" is accepted too), and only a
// trailing CR (the line terminator) is trimmed, nothing else. head is the
// full captured request head, CRLF CRLF included.
func ExtractHost(head []byte) (string, error) {
	for _, line := range splitLines(head) {
		if len(line) < 6 {
			continue
		}
		if !equalFoldASCII(line[:5], []byte("Host:")) {
			continue
		}
		value := line[5:]
		if len(value) > 0 && value[0] == ' ' {
			value = value[1:]
		}
		return string(trimTrailingCR(value)), nil
	}
	return "", ErrNoHost
}

// ExtractURI parses the first line of head as an HTTP request line
// ("METHOD SP URI SP VERSION") and returns the URI token. Retained for a
// future path-based routing extension; not currently consulted by the
// connection handler.
func ExtractURI(head []byte) (string, error) {
	lines := splitLines(head)
	if len(lines) == 0 {
		return "", ErrBadRequestLine
	}
	reqLine := trimTrailingCR(lines[0])

	method, rest, ok := cutByte(reqLine, ' ')
	if !ok || !isUppercaseASCII(method) {
		return "", ErrBadRequestLine
	}
	uri, rest, ok := cutByte(rest, ' ')
	if !ok || len(uri) == 0 {
		return "", ErrBadRequestLine
	}
	if len(rest) == 0 {
		return "", ErrBadRequestLine
	}
	return string(uri), nil
}

// splitLines splits on "\n", keeping each line's trailing "\r" (if any) so
// callers can distinguish it from the payload.
func splitLines(head []byte) [][]byte {
	return bytes.Split(head, []byte("\n"))
}

func trimTrailingCR(line []byte) []byte {
	if len(line) > 0 && line[len(line)-1] == '\r' {
		return line[:len(line)-1]
	}
	return line
}

func cutByte(s []byte, b byte) (before, after []byte, found bool) {
	if i := bytes.IndexByte(s, b); i >= 0 {
		return s[:i], s[i+1:], true
	}
	return s, nil, false
}

func isUppercaseASCII(s []byte) bool {
	if len(s) == 0 {
		return false
	}
	for _, c := range s {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}

func equalFoldASCII(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'a' <= ca && ca <= 'z' {
			ca -= 'a' - 'A'
		}
		if 'a' <= cb && cb <= 'z' {
			cb -= 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
