// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package harness

import (
	"fmt"
	"regexp"
	"sync"
)

// Registry holds benchmark definitions in registration order.
//
// Description:
//
//	The Registry is the source the execution engine pulls definitions from.
//	ListBenchmarks returns definitions in the order they were registered and
//	that order is authoritative for execution and for the report.
//
// Thread Safety: Safe for concurrent use via read-write mutex.
type Registry struct {
	mu    sync.RWMutex
	order []*Definition
	index map[string]int
	hooks []RegistrationHook
}

// RegistrationHook is called when a definition is registered or removed.
type RegistrationHook func(def *Definition, registered bool)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		index: make(map[string]int),
	}
}

// DefaultRegistry is the process-wide registry used by built-in probes and
// the benchkit CLI.
var DefaultRegistry = NewRegistry()

// Register adds a definition to the end of the registry.
//
// Outputs:
//   - error: ErrNilDefinition if def is nil, ErrAlreadyRegistered if the
//     name is taken.
//
// Thread Safety: Safe for concurrent use.
func (r *Registry) Register(def *Definition) error {
	if def == nil {
		return ErrNilDefinition
	}

	r.mu.Lock()
	if _, exists := r.index[def.Name()]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, def.Name())
	}
	r.index[def.Name()] = len(r.order)
	r.order = append(r.order, def)
	hooks := append([]RegistrationHook(nil), r.hooks...)
	r.mu.Unlock()

	for _, hook := range hooks {
		hook(def, true)
	}
	return nil
}

// MustRegister registers a definition and panics on error.
//
// Should only be used during initialization.
func (r *Registry) MustRegister(def *Definition) {
	if err := r.Register(def); err != nil {
		panic(fmt.Sprintf("harness: failed to register benchmark: %v", err))
	}
}

// Unregister removes a definition by name. Remaining definitions keep their
// relative order.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	i, ok := r.index[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	def := r.order[i]
	r.order = append(r.order[:i], r.order[i+1:]...)
	delete(r.index, name)
	for j := i; j < len(r.order); j++ {
		r.index[r.order[j].Name()] = j
	}
	hooks := append([]RegistrationHook(nil), r.hooks...)
	r.mu.Unlock()

	for _, hook := range hooks {
		hook(def, false)
	}
	return nil
}

// Get returns a definition by name.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[name]
	if !ok {
		return nil, false
	}
	return r.order[i], true
}

// ListBenchmarks returns all definitions in registration order. The slice is
// a copy; the definitions are shared and immutable.
func (r *Registry) ListBenchmarks() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, len(r.order))
	copy(out, r.order)
	return out
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	for i, def := range r.order {
		out[i] = def.Name()
	}
	return out
}

// Count returns the number of registered definitions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Filter returns a new registry holding the definitions whose names match
// pattern, in their original order. A nil pattern matches everything.
func (r *Registry) Filter(pattern *regexp.Regexp) *Registry {
	out := NewRegistry()
	for _, def := range r.ListBenchmarks() {
		if pattern == nil || pattern.MatchString(def.Name()) {
			out.index[def.Name()] = len(out.order)
			out.order = append(out.order, def)
		}
	}
	return out
}

// AddHook registers a callback for registration changes.
func (r *Registry) AddHook(hook RegistrationHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, hook)
}

// Register adds def to DefaultRegistry.
func Register(def *Definition) error {
	return DefaultRegistry.Register(def)
}

// MustRegister adds def to DefaultRegistry and panics on error.
func MustRegister(def *Definition) {
	DefaultRegistry.MustRegister(def)
}
