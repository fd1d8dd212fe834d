// Package duplex implements the bidirectional byte pump between a client and
// a backend connection, with first-close-wins termination semantics.
package duplex

import (
	"io"
	"net"
	"sync/atomic"

	"go.uber.org/zap"
)

// direction copies src -> dst, reporting its outcome on done and keeping a
// running byte count in n so the other goroutine's in-flight total can still
// be read after this direction wins the race.
func direction(src, dst net.Conn, n *atomic.Int64, done chan<- error) {
	copied, err := io.Copy(&countingWriter{w: dst, n: n}, src)
	_ = copied
	done <- err
}

type countingWriter struct {
	w io.Writer
	n *atomic.Int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	written, err := c.w.Write(p)
	c.n.Add(int64(written))
	return written, err
}

// Pump copies a -> b and b -> a concurrently and returns as soon as either
// direction finishes (EOF or error). The still-running direction's Read is
// abandoned, not waited on: one peer closing its write half while the other
// keeps sending is common (e.g. an HTTP/1.0 response followed by a
// server-initiated close), and retaining the still-open half indefinitely
// invites descriptor exhaustion under a misbehaving peer. Closing a and b is
// the caller's responsibility; Pump only copies bytes.
//
// aToB and bToA report how many bytes had been copied in each direction by
// the time Pump returned — the losing direction's count is a snapshot, not a
// final total, since its copy may still be blocked on a Read.
func Pump(a, b net.Conn, log *zap.Logger) (aToB, bToA int64) {
	var aToBCount, bToACount atomic.Int64
	done := make(chan error, 2)

	go direction(a, b, &aToBCount, done)
	go direction(b, a, &bToACount, done)

	<-done

	aToB = aToBCount.Load()
	bToA = bToACount.Load()
	log.Debug("duplex pump finished",
		zap.Int64("a_to_b_bytes", aToB),
		zap.Int64("b_to_a_bytes", bToA),
	)
	return aToB, bToA
}
