package proxy

import (
	"context"
	"errors"
	"net"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/patientsknowbest/robby/internal/duplex"
	"github.com/patientsknowbest/robby/internal/headreader"
	"github.com/patientsknowbest/robby/internal/httphead"
	"github.com/patientsknowbest/robby/internal/registry"
)

// handleConn runs the full per-connection lifecycle: capture the HTTP head,
// resolve its Host to a backend, dial that backend, replay the captured
// bytes, then pump the rest of the connection bidirectionally. Every
// terminal condition except registry.ErrStateCorrupt logs and returns,
// closing only this connection; ErrStateCorrupt panics, which
// handleWithRecover promotes to a process-fatal signal.
func (s *Server) handleConn(client net.Conn) {
	defer client.Close()

	connID := uuid.New()
	log := s.Log.With(
		zap.String("conn_id", connID.String()),
		zap.String("peer", client.RemoteAddr().String()),
	)
	log.Info("accepted connection")

	buf := make([]byte, headerBufferSize)
	total, headerEnd, err := headreader.Read(client, buf)
	if err != nil {
		log.Warn("failed to read request head", zap.Error(err))
		return
	}
	buf = buf[:total]

	if !utf8.Valid(buf[:headerEnd]) {
		log.Warn("request head is not valid utf-8")
		return
	}

	host, err := httphead.ExtractHost(buf[:headerEnd])
	if err != nil {
		log.Warn("failed to extract Host header", zap.Error(err))
		return
	}
	log = log.With(zap.String("host", host))

	backend, err := s.Registry.Lookup(host)
	if err != nil {
		if errors.Is(err, registry.ErrStateCorrupt) {
			panic("registry state corrupt: " + err.Error())
		}
		log.Warn("no route for host", zap.Error(err))
		return
	}
	log = log.With(zap.String("backend", backend.String()))
	log.Info("resolved backend")

	backendConn, err := s.dialer(context.Background(), "tcp", backend.String())
	if err != nil {
		log.Warn("failed to dial backend", zap.Error(err))
		return
	}
	defer backendConn.Close()

	if _, err := backendConn.Write(buf); err != nil {
		log.Warn("failed to replay captured head to backend", zap.Error(err))
		return
	}

	aToB, bToA := duplex.Pump(client, backendConn, log)
	log.Info("connection closed",
		zap.Int64("client_to_backend_bytes", aToB),
		zap.Int64("backend_to_client_bytes", bToA),
	)
}
