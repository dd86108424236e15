package transport

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-govnotify/core"
)

// Registry indexes transport adapters by kind so providers can be wired
// against "rest" or "graphql" without knowing the concrete adapter.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]core.TransportAdapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: map[string]core.TransportAdapter{}}
}

// NewDefaultRegistry registers a REST adapter and a GraphQL adapter sharing
// client.
func NewDefaultRegistry(client HTTPDoer) *Registry {
	registry := NewRegistry()
	_ = registry.Register(NewRESTAdapter(client))
	_ = registry.Register(NewGraphQLAdapter("", client))
	return registry
}

func (r *Registry) Register(adapter core.TransportAdapter) error {
	if r == nil {
		return fmt.Errorf("transport: registry is nil")
	}
	if adapter == nil {
		return fmt.Errorf("transport: adapter is nil")
	}
	kind := normalizeKind(adapter.Kind())
	if kind == "" {
		return fmt.Errorf("transport: adapter kind is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[kind]; exists {
		return fmt.Errorf("transport: adapter kind %q already registered", kind)
	}
	r.adapters[kind] = adapter
	return nil
}

func (r *Registry) Get(kind string) (core.TransportAdapter, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[normalizeKind(kind)]
	return adapter, ok
}

// MustGet panics when kind is not registered. It is meant for wiring code.
func (r *Registry) MustGet(kind string) core.TransportAdapter {
	adapter, ok := r.Get(kind)
	if !ok {
		panic(fmt.Sprintf("transport: adapter kind %q not registered", kind))
	}
	return adapter
}

func (r *Registry) Kinds() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.adapters))
	for kind := range r.adapters {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

func normalizeKind(kind string) string {
	return strings.TrimSpace(strings.ToLower(kind))
}
