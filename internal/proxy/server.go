// Package proxy implements the accept loop and per-connection handler that
// together make up the reverse proxy's data path.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	dnscache "go.mercari.io/go-dnscache"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/patientsknowbest/robby/internal/registry"
)

// headerBufferSize is the hard ceiling on how much of a connection's HTTP
// head (plus any payload bytes that rode along in the same read) the proxy
// will buffer before giving up.
const headerBufferSize = 16384

// Server binds a TCP address and proxies every accepted connection to a
// backend resolved through reg.
type Server struct {
	Addr     string
	Registry *registry.Registry
	Log      *zap.Logger

	dialer func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewServer builds a Server whose backend dialer is wrapped with a caching
// DNS resolver, since a Backend's address may be a hostname rather than an
// IP literal.
func NewServer(addr string, reg *registry.Registry, log *zap.Logger) (*Server, error) {
	resolver, err := dnscache.New(1*time.Minute, 5*time.Second, log)
	if err != nil {
		return nil, fmt.Errorf("building backend dns cache: %w", err)
	}
	dial := dnscache.DialFunc(resolver, (&net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext)

	return &Server{
		Addr:     addr,
		Registry: reg,
		Log:      log,
		dialer:   dial,
	}, nil
}

// ListenAndServe binds s.Addr and accepts connections until ctx is cancelled
// or the listener fails unrecoverably. Each accepted connection is handled
// in its own goroutine so a slow client never stalls new accepts; a panic in
// any connection goroutine is recovered, logged, and re-raised through
// panicCh so the caller can bring the whole process down, per the proxy's
// panic-isolation policy (a panic means an invariant broke somewhere and
// continuing risks routing to a stale or corrupt registry state).
func (s *Server) ListenAndServe(ctx context.Context, panicCh chan<- any) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", s.Addr, err)
	}
	defer ln.Close()

	s.Log.Info("listening", zap.String("addr", s.Addr))

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		<-gctx.Done()
		return ln.Close()
	})
	group.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return nil
				}
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					s.Log.Warn("transient accept error", zap.Error(err))
					continue
				}
				return fmt.Errorf("accept: %w", err)
			}
			go s.handleWithRecover(conn, panicCh)
		}
	})
	return group.Wait()
}

// handleWithRecover runs handleConn and converts any panic into a message on
// panicCh. An unrecovered panic would already take the whole process down,
// which is the policy we want — but a bare crash loses the chance to log a
// clean error and flush the logger first, so we recover here and re-signal
// explicitly instead.
func (s *Server) handleWithRecover(conn net.Conn, panicCh chan<- any) {
	defer func() {
		if r := recover(); r != nil {
			s.Log.Error("connection handler panicked", zap.Any("panic", r))
			select {
			case panicCh <- r:
			default:
			}
		}
	}()
	s.handleConn(conn)
}
