// Package registry holds the host-pattern -> backend-pool mapping that the
// proxy resolves every connection's Host header against, refreshed
// periodically from a provider.ServiceProvider.
package registry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/patientsknowbest/robby/internal/provider"
)

// Backend is a single concrete proxy destination. Immutable once built.
type Backend struct {
	Address string
	Port    uint16
}

func (b Backend) String() string {
	return net.JoinHostPort(b.Address, strconv.Itoa(int(b.Port)))
}

// Sentinel errors returned by Lookup / addressForHost. Callers should use
// errors.Is against these, never string matching.
var (
	ErrStateCorrupt = errors.New("registry state corrupt")
	ErrParse        = errors.New("malformed backend address")
)

// ErrNotFound means no host pattern in the current map matches the queried
// host, including all wildcard suffix probes.
type ErrNotFound string

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("no address found for host %s", string(e))
}

const urlPrefixTag = "urlprefix-"

// Registry is the shared, concurrently-read service map. The zero value is
// not usable; construct with New.
type Registry struct {
	mu       sync.RWMutex
	services map[string][]Backend
	corrupt  atomic.Bool

	provider provider.ServiceProvider
	log      *zap.Logger
}

// New builds a Registry with an empty map. Call Update once synchronously
// before serving traffic; the map stays empty (every lookup fails with
// ErrNotFound) until the first successful Update.
func New(p provider.ServiceProvider, log *zap.Logger) *Registry {
	return &Registry{
		services: make(map[string][]Backend),
		provider: p,
		log:      log,
	}
}

// Update rebuilds the service map from the provider and atomically swaps it
// in. On any provider error the existing map is left untouched and the error
// is returned unchanged to the caller, who decides whether that's fatal
// (startup) or merely logged (background refresh).
//
// If anything panics while the map is being rebuilt or swapped, the registry
// is marked permanently corrupt: the rebuild happens on a local map so a
// panic never leaves r.services half-written, but we can no longer trust any
// invariant the caller relied on, so every future lookup fails closed with
// ErrStateCorrupt rather than silently using a stale map.
func (r *Registry) Update(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.corrupt.Store(true)
			err = fmt.Errorf("registry update panicked: %v", rec)
			r.log.Error("registry update panicked, marking state corrupt", zap.Any("panic", rec))
		}
	}()

	services, err := r.provider.Services(ctx)
	if err != nil {
		return err
	}

	next := make(map[string][]Backend)
	for name := range services {
		nodes, err := r.provider.GetNodes(ctx, name)
		if err != nil {
			return err
		}
		for _, node := range nodes {
			for _, tag := range node.Tags {
				if !strings.HasPrefix(tag, urlPrefixTag) {
					continue
				}
				key := extractPrefix(tag)
				next[key] = append(next[key], Backend{
					Address: node.ServiceAddress,
					Port:    node.ServicePort,
				})
			}
		}
	}

	r.mu.Lock()
	r.services = next
	r.mu.Unlock()
	return nil
}

// extractPrefix derives a host-pattern key from a "urlprefix-<pattern>/..."
// tag by removing the literal prefix and stripping every slash. Slashes are
// removed, not the path after them: "urlprefix-foo.com/" yields "foo.com",
// while "urlprefix-foo.com/some/path" yields "foo.comsomepath". Path-level
// routing is not implemented.
func extractPrefix(tag string) string {
	key := strings.TrimPrefix(tag, urlPrefixTag)
	return strings.ReplaceAll(key, "/", "")
}

// Lookup resolves host to a concrete backend, trying an exact match first
// and then successively shorter wildcard suffixes.
//
// lookup("foo.com") probes, in order: "foo.com", "*foo.com", "*com", "*".
// So a bucket keyed "*foo.com" matches "foo.com", "bar.foo.com", and
// "baz.bar.foo.com", but NOT "foo.com.biz" (which probes "*foo.com.biz",
// "*com.biz", "*biz", "*" instead). This is deliberate suffix matching, not glob
// matching — see the design notes for why.
func (r *Registry) Lookup(host string) (Backend, error) {
	if b, err := r.addressForHost(host); err == nil {
		return b, nil
	} else if errors.Is(err, ErrStateCorrupt) {
		return Backend{}, err
	}

	labels := strings.Split(host, ".")
	for i := 0; i <= len(labels); i++ {
		probe := "*" + strings.Join(labels[i:], ".")
		if b, err := r.addressForHost(probe); err == nil {
			return b, nil
		} else if errors.Is(err, ErrStateCorrupt) {
			return Backend{}, err
		}
	}
	return Backend{}, ErrNotFound(host)
}

func (r *Registry) addressForHost(host string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.corrupt.Load() {
		return Backend{}, ErrStateCorrupt
	}

	backends, ok := r.services[host]
	if !ok || len(backends) == 0 {
		return Backend{}, ErrNotFound(host)
	}

	chosen := backends[rand.N(len(backends))]
	if err := validateAddress(chosen); err != nil {
		return Backend{}, fmt.Errorf("%w: %s: %v", ErrParse, chosen, err)
	}
	return chosen, nil
}

// validateAddress checks that a Backend's address:port is a syntactically
// well-formed dial target without performing any DNS lookup — the address
// may be an IP literal or a hostname (the actual resolution, if needed,
// happens later at dial time in the proxy package). This mirrors the
// original's SocketAddr parse step, which rejects malformed text but never
// blocks on the network.
func validateAddress(b Backend) error {
	if b.Address == "" {
		return fmt.Errorf("empty address")
	}
	if b.Port == 0 {
		return fmt.Errorf("invalid port 0")
	}
	if _, _, err := net.SplitHostPort(b.String()); err != nil {
		return err
	}
	return nil
}
