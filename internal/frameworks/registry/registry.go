// Package registry is the name-to-constructor table behind every pluggable
// piece of the server: cache, store and storage drivers, HTTP services and
// interceptors. Entries are added from package init functions and read
// while the App is being assembled.
package registry

import (
	"fmt"
	"slices"
	"sync"
)

// Registry maps names to values of type T. The zero value is not usable;
// call New.
type Registry[T any] struct {
	kind string

	mu      sync.RWMutex
	entries map[string]T
}

// New returns an empty registry. kind names the registered things in
// error messages ("cache driver", "service").
func New[T any](kind string) *Registry[T] {
	return &Registry[T]{kind: kind, entries: map[string]T{}}
}

// Add registers v under name. A name can be registered once.
func (r *Registry[T]) Add(name string, v T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.entries[name]; dup {
		return fmt.Errorf("%s %q already registered", r.kind, name)
	}
	r.entries[name] = v
	return nil
}

// MustAdd is Add for init functions.
func (r *Registry[T]) MustAdd(name string, v T) {
	if err := r.Add(name, v); err != nil {
		panic(err)
	}
}

// Lookup returns the value registered under name.
func (r *Registry[T]) Lookup(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.entries[name]
	return v, ok
}

// Resolve is Lookup with an error listing what is available.
func (r *Registry[T]) Resolve(name string) (T, error) {
	v, ok := r.Lookup(name)
	if !ok {
		return v, fmt.Errorf("unknown %s %q (registered: %v)", r.kind, name, r.Names())
	}
	return v, nil
}

// Names returns the registered names in sorted order.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
