package model

import (
	"fmt"
	"sort"
)

// Registry maps model keys to descriptors. It is an explicit object so
// tests can build isolated registries instead of mutating shared state.
type Registry struct {
	models map[string]Descriptor
}

// NewRegistry returns an empty model registry.
func NewRegistry() *Registry {
	return &Registry{models: make(map[string]Descriptor)}
}

// NewBuiltinRegistry returns a registry pre-loaded with the built-in
// model catalog.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	for _, d := range builtinDescriptors() {
		if err := r.Register(d); err != nil {
			// the built-in catalog is validated by tests; a failure
			// here is a programming error
			panic(err)
		}
	}
	return r
}

// Register validates and adds a descriptor, overwriting any existing
// model with the same key. A nil Residual is replaced by the default
// weighted residual.
func (r *Registry) Register(d Descriptor) error {
	if err := d.validate(); err != nil {
		return err
	}
	if d.Residual == nil {
		d.Residual = DefaultResidual(d.Model)
	}
	r.models[d.Key] = d
	return nil
}

// Get returns the descriptor for a key.
func (r *Registry) Get(key string) (Descriptor, error) {
	d, ok := r.models[key]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownModel, key)
	}
	return d, nil
}

// Has reports whether a model key is registered.
func (r *Registry) Has(key string) bool {
	_, ok := r.models[key]
	return ok
}

// Keys returns all registered model keys, sorted.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.models))
	for k := range r.models {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetByName returns the descriptor with the given human-readable name.
func (r *Registry) GetByName(name string) (Descriptor, error) {
	for _, d := range r.models {
		if d.Name == name {
			return d, nil
		}
	}
	return Descriptor{}, fmt.Errorf("%w: no model with name %q", ErrUnknownModel, name)
}
