// Command robby is a Layer-7 TCP reverse proxy that routes inbound
// connections to backends resolved from a Consul-compatible service
// registry, keyed by the inbound request's Host header.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/patientsknowbest/robby/internal/config"
	"github.com/patientsknowbest/robby/internal/proxy"
	"github.com/patientsknowbest/robby/internal/provider"
	"github.com/patientsknowbest/robby/internal/registry"
)

func main() {
	os.Exit(run())
}

// run wires config, discovery provider, registry and server together, and
// returns the process exit code. A recovered panic anywhere below this
// point is a policy violation we don't trust the process to recover from —
// log it and exit 1, never continue.
func run() (exitCode int) {
	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		return 1
	}
	defer log.Sync() //nolint:errcheck

	defer func() {
		if r := recover(); r != nil {
			log.Error("fatal panic", zap.Any("panic", r))
			exitCode = 1
		}
	}()

	cfg, err := config.Load(log)
	if err != nil {
		log.Error("failed to load configuration", zap.Error(err))
		return 1
	}

	consulProvider, err := provider.NewConsulProvider(cfg.ConsulAddr, log)
	if err != nil {
		log.Error("failed to build consul provider", zap.Error(err))
		return 1
	}

	reg := registry.New(consulProvider, log)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := reg.Update(ctx); err != nil {
		log.Error("initial registry update failed, is the discovery daemon running?",
			zap.String("consul_addr", cfg.ConsulAddr), zap.Error(err))
		return 1
	}

	server, err := proxy.NewServer(cfg.Addr(), reg, log)
	if err != nil {
		log.Error("failed to build server", zap.Error(err))
		return 1
	}

	panicCh := make(chan any, 1)
	go refreshLoop(context.Background(), reg, cfg.RefreshInterval, log)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe(context.Background(), panicCh)
	}()

	select {
	case p := <-panicCh:
		log.Error("connection handler panic, terminating process", zap.Any("panic", p))
		return 1
	case err := <-serveErr:
		if err != nil {
			log.Error("server exited with error", zap.Error(err))
			return 1
		}
		return 0
	}
}

// refreshLoop periodically rebuilds the registry's service map. Failures are
// logged and never disturb the currently-installed map — the whole point of
// the rebuild-then-swap design in internal/registry.
func refreshLoop(ctx context.Context, reg *registry.Registry, interval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateCtx, cancel := context.WithTimeout(ctx, interval)
			err := reg.Update(updateCtx)
			cancel()
			if err != nil {
				log.Error("registry refresh failed, keeping previous map", zap.Error(err))
			}
		}
	}
}
