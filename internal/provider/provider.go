// Package provider abstracts the service-discovery backend the registry
// pulls routing data from.
package provider

import (
	"context"
	"fmt"
)

// Node is a single service instance as reported by the discovery daemon.
type Node struct {
	Address        string
	ServiceAddress string
	ServiceID      string
	ServiceName    string
	ServicePort    uint16
	Tags           []string
}

// ServiceProvider lists services and the nodes backing them. Errors are
// treated as opaque by callers: any error aborts the registry refresh that
// triggered it.
type ServiceProvider interface {
	// Services returns every known service name mapped to its tags.
	Services(ctx context.Context) (map[string][]string, error)
	// GetNodes returns the instances currently registered for service.
	GetNodes(ctx context.Context, service string) ([]Node, error)
}

// ErrNoSuchService is returned by a provider's GetNodes when the service
// name is not recognized.
type ErrNoSuchService string

func (e ErrNoSuchService) Error() string {
	return fmt.Sprintf("no such service: %s", string(e))
}
