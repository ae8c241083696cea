package core

import (
	"sort"
	"sync"

	"eventrelay/internal/types"
)

// Registry maps integration kinds to their handlers. A worker builds one at
// startup and each listener looks up the handler for the kind it serves.
type Registry struct {
	mu       sync.RWMutex
	handlers map[types.IntegrationType]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[types.IntegrationType]Handler)}
}

// Add registers a raw handler for kind, replacing any previous one.
func (r *Registry) Add(kind types.IntegrationType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// Get returns the handler for kind.
func (r *Registry) Get(kind types.IntegrationType) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// Kinds returns the registered kinds in a stable order.
func (r *Registry) Kinds() []types.IntegrationType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]types.IntegrationType, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Register adapts a typed handler and adds it under kind.
func Register[T any](r *Registry, kind types.IntegrationType, h IntegrationHandler[T]) {
	r.Add(kind, Adapt(h))
}
