package schema

import (
	"fmt"
	"slices"
	"sync"
)

// Registry holds entity declarations by name. It is the metadata source the
// repository layer reads from; the layer itself never mutates it.
type Registry struct {
	mu       sync.RWMutex
	entities map[string]*Entity
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entities: make(map[string]*Entity)}
}

// Register adds an entity. Registering a second entity under the same name fails.
func (r *Registry) Register(e *Entity) error {
	if e == nil {
		return fmt.Errorf("register: nil entity")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entities[e.Name()]; exists {
		return fmt.Errorf("register: entity %q already registered", e.Name())
	}
	r.entities[e.Name()] = e
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(e *Entity) {
	if err := r.Register(e); err != nil {
		panic(err)
	}
}

// Lookup returns the entity registered under name.
func (r *Registry) Lookup(name string) (*Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[name]
	return e, ok
}

// Names returns all registered entity names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entities))
	for name := range r.entities {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
