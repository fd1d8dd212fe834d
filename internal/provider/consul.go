package provider

import (
	"context"
	"fmt"
	"net"
	"time"

	consulapi "github.com/hashicorp/consul/api"
	dnscache "go.mercari.io/go-dnscache"
	"go.uber.org/zap"
)

// DefaultConsulAddr is the discovery daemon address the baseline proxy talks
// to when no override is configured.
const DefaultConsulAddr = "http://127.0.0.1:8500"

// ConsulProvider implements ServiceProvider against a Consul-compatible
// catalog API.
type ConsulProvider struct {
	client *consulapi.Client
	log    *zap.Logger
}

// NewConsulProvider builds a provider talking to addr (e.g.
// "http://127.0.0.1:8500"). The client's dialer is wrapped with a caching
// DNS resolver so repeated catalog polls don't re-resolve the discovery
// daemon's hostname on every refresh, mirroring the same wiring regproxy2
// applies to its own upstream HTTP client.
func NewConsulProvider(addr string, log *zap.Logger) (*ConsulProvider, error) {
	resolver, err := dnscache.New(1*time.Minute, 5*time.Second, log)
	if err != nil {
		return nil, fmt.Errorf("building dns cache: %w", err)
	}
	dialer := dnscache.DialFunc(resolver, (&net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext)

	cfg := consulapi.DefaultConfig()
	cfg.Address = addr
	cfg.Transport.DialContext = dialer

	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("building consul client for %s: %w", addr, err)
	}
	return &ConsulProvider{client: client, log: log}, nil
}

// Services lists every service name known to the catalog, with its tags.
func (c *ConsulProvider) Services(ctx context.Context) (map[string][]string, error) {
	services, _, err := c.client.Catalog().Services(&consulapi.QueryOptions{})
	if err != nil {
		return nil, fmt.Errorf("listing consul services: %w", err)
	}
	return services, nil
}

// GetNodes lists the instances currently registered for service.
func (c *ConsulProvider) GetNodes(ctx context.Context, service string) ([]Node, error) {
	entries, _, err := c.client.Catalog().Service(service, "", &consulapi.QueryOptions{})
	if err != nil {
		return nil, fmt.Errorf("listing nodes for service %s: %w", service, err)
	}
	nodes := make([]Node, 0, len(entries))
	for _, e := range entries {
		nodes = append(nodes, Node{
			Address:        e.Address,
			ServiceAddress: e.ServiceAddress,
			ServiceID:      e.ServiceID,
			ServiceName:    e.ServiceName,
			ServicePort:    uint16(e.ServicePort),
			Tags:           e.ServiceTags,
		})
	}
	return nodes, nil
}
