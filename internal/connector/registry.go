package connector

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/kiranshivaraju/integrationhub/internal/config"
)

var ErrUnknownConnector = errors.New("unknown connector")

// Registry maps connector names to factories. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// DefaultRegistry returns a registry with every built-in connector.
func DefaultRegistry(cfg config.ConnectorsConfig) *Registry {
	r := NewRegistry()
	r.Register(EchoName, func() Connector { return NewEcho() })
	r.Register(SpaceXName, func() Connector { return NewSpaceX(cfg.SpaceXBaseURL, cfg.DefaultTimeout) })
	r.Register(HTTPRequestName, func() Connector { return NewHTTPRequest(cfg.DefaultTimeout) })
	return r
}

// Register adds a factory under name. A later registration replaces an earlier one.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Resolve builds the connector registered under name.
// Returns an error wrapping ErrUnknownConnector if nothing is registered.
func (r *Registry) Resolve(name string) (Connector, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnector, name)
	}
	return factory(), nil
}

func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// List returns the registered names in lexicographic order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
