package provider

import (
	"sort"
	"sync"

	"github.com/yairfalse/stackforge/internal/catalog"
	"github.com/yairfalse/stackforge/pkg/account"
)

// Registry maps providers, and optionally single services, to adapters.
type Registry struct {
	mu        sync.RWMutex
	providers map[account.Provider]Adapter
	services  map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[account.Provider]Adapter),
		services:  make(map[string]Adapter),
	}
}

// Register sets the adapter serving every service of a provider.
// Registering again replaces the previous adapter.
func (r *Registry) Register(p account.Provider, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p] = a
}

// RegisterService routes one service id to a dedicated adapter.
func (r *Registry) RegisterService(serviceID string, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[serviceID] = a
}

// ForProvider returns the adapter registered for a provider.
func (r *Registry) ForProvider(p account.Provider) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.providers[p]
	return a, ok
}

// ForService returns the adapter for a service: the service override if
// present, otherwise the provider adapter.
func (r *Registry) ForService(def catalog.ServiceDefinition) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.services[def.ID]; ok {
		return a, true
	}
	a, ok := r.providers[def.Provider]
	return a, ok
}

// Bindings returns "provider=adapter" and "service=adapter" pairs, sorted.
func (r *Registry) Bindings() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers)+len(r.services))
	for p, a := range r.providers {
		out = append(out, string(p)+"="+a.Name())
	}
	for s, a := range r.services {
		out = append(out, s+"="+a.Name())
	}
	sort.Strings(out)
	return out
}
