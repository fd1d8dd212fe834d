package provider

import (
	"context"
	"maps"
)

// StaticProvider is an in-memory ServiceProvider, the test double used by
// the registry and end-to-end tests instead of a running discovery daemon.
// It is the direct generalization of regproxy2's RegStorageMemory: a plain
// map guarded by nothing, because tests own it exclusively.
type StaticProvider struct {
	services map[string][]string
	nodes    map[string][]Node
}

// NewStaticProvider builds an empty provider; use Register to populate it.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		services: make(map[string][]string),
		nodes:    make(map[string][]Node),
	}
}

// Register adds a single node for service and sets tags as the service's tag
// list returned by Services (replacing any earlier list). The registry routes
// on node.Tags, so the urlprefix tags must be set on node as well.
func (s *StaticProvider) Register(service string, tags []string, node Node) {
	s.services[service] = tags
	s.nodes[service] = append(s.nodes[service], node)
}

func (s *StaticProvider) Services(_ context.Context) (map[string][]string, error) {
	return maps.Clone(s.services), nil
}

func (s *StaticProvider) GetNodes(_ context.Context, service string) ([]Node, error) {
	nodes, ok := s.nodes[service]
	if !ok {
		return nil, ErrNoSuchService(service)
	}
	return nodes, nil
}
