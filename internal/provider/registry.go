// Package provider holds the per-provider adapters used by cancel, modify
// and rollback. Every simulated segment settles on the settlement ledger, so
// providers without a dedicated adapter can fall back to the ledger adapter.
package provider

import (
	"sort"
	"strings"
	"sync"

	"github.com/alanyoungcy/routeengine/internal/domain"
)

// Registry holds named provider adapters.
type Registry struct {
	adapters map[string]domain.ProviderAdapter
	fallback domain.ProviderAdapter
	mu       sync.RWMutex
}

var _ domain.ProviderLookup = (*Registry)(nil)

// NewRegistry returns an empty registry. Call Register to add adapters.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]domain.ProviderAdapter)}
}

// Register adds an adapter under its own name. Names are case-insensitive.
func (r *Registry) Register(a domain.ProviderAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[strings.ToLower(a.Name())] = a
}

// SetFallback sets the adapter returned for providers with no registration.
// A nil fallback makes unknown providers unsupported.
func (r *Registry) SetFallback(a domain.ProviderAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = a
}

// Adapter returns the adapter for provider.
func (r *Registry) Adapter(provider string) (domain.ProviderAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.adapters[strings.ToLower(provider)]; ok {
		return a, true
	}
	if r.fallback != nil {
		return r.fallback, true
	}
	return nil, false
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
