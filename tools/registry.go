// Package tools provides tool management and registration.
//
// Information Hiding:
// - Routing table storage hidden
// - Collision policy decided by the caller, not here

package tools

import (
	"sync"
)

type entry struct {
	owner  string
	schema Schema
}

// Registry maps tool names to the session that serves them. Registration is
// serialized; lookups may run concurrently.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	order   []string
}

// NewRegistry creates a new empty routing registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]entry),
	}
}

// Register routes schema's name to owner. If another owner already served the
// name it is replaced, and its name is returned with replaced=true.
func (r *Registry) Register(owner string, schema Schema) (previous string, replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := schema.Name()
	if old, exists := r.entries[name]; exists {
		previous, replaced = old.owner, true
	} else {
		r.order = append(r.order, name)
	}
	r.entries[name] = entry{owner: owner, schema: schema}
	return previous, replaced
}

// OwnerOf returns the session serving name, if any.
func (r *Registry) OwnerOf(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	return e.owner, ok
}

// Get returns the schema for name.
func (r *Registry) Get(name string) (Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	return e.schema, ok
}

// Catalog returns schemas in first-registration order.
func (r *Registry) Catalog() Catalog {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(Catalog, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].schema)
	}
	return out
}

// ByOwner returns the tool names owner serves, in registration order.
func (r *Registry) ByOwner(owner string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for _, name := range r.order {
		if r.entries[name].owner == owner {
			names = append(names, name)
		}
	}
	return names
}

// RemoveOwner drops every route owned by owner.
func (r *Registry) RemoveOwner(owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.order[:0]
	for _, name := range r.order {
		if r.entries[name].owner == owner {
			delete(r.entries, name)
			continue
		}
		kept = append(kept, name)
	}
	r.order = kept
}
