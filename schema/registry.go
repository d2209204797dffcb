package schema

import (
	"sync"

	"github.com/skuid/restgraph/field"
)

// Registry holds Schemas by name and resolves them lazily for Nested
// fields, letting Schemas reference each other (including themselves)
// cyclically — spec §9: "Resolve child Schemas by name lazily at first
// use; prevent infinite recursion during dump by tracking a visited set".
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{schemas: map[string]*Schema{}}
}

// Register adds s under its own Name.
func (r *Registry) Register(s *Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[s.Name] = s
}

// Get returns the Schema registered under name, or nil.
func (r *Registry) Get(name string) *Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.schemas[name]
}

// Resolver returns a field.Resolver backed by this registry, for
// constructing NestedFields that reference schemas not yet registered
// (e.g. a self-referential Node, or two entities that reference each
// other).
func (r *Registry) Resolver() field.Resolver {
	return func(name string) field.SchemaRef {
		s := r.Get(name)
		if s == nil {
			return nil
		}
		return s
	}
}
