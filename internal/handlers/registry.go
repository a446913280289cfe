package handlers

import (
	"sort"
	"sync"

	"github.com/weftlabs/weft/pkg/schema"
)

// Registry is the thread-safe lookup table from node kind to handler.
// Registration is explicit: nothing is discovered or auto-wired, and the
// executor treats kinds without a handler as pass-through nodes.
type Registry struct {
	mu       sync.RWMutex
	handlers map[schema.NodeKind]NodeHandler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[schema.NodeKind]NodeHandler),
	}
}

// Register adds a handler. Returns an error on nil handlers, empty kinds,
// and duplicate registrations.
func (r *Registry) Register(h NodeHandler) error {
	if h == nil {
		return schema.NewError(schema.ErrCodeValidation, "handler is nil")
	}
	kind := h.Kind()
	if kind == "" {
		return schema.NewError(schema.ErrCodeValidation, "handler kind is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[kind]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "handler for kind %q already registered", kind)
	}

	r.handlers[kind] = h
	return nil
}

// Get retrieves the handler for a kind. The boolean reports whether one is
// registered; callers decide the pass-through fallback.
func (r *Registry) Get(kind schema.NodeKind) (NodeHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[kind]
	return h, ok
}

// Has checks whether a kind has a registered handler.
func (r *Registry) Has(kind schema.NodeKind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[kind]
	return ok
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []schema.NodeKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]schema.NodeKind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Count returns the number of registered handlers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}
