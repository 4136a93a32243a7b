package modules

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// ErrModuleNotFound is returned by lookups for names the host never started.
var ErrModuleNotFound = errors.New("module not found")

type entry struct {
	module any
	worker *Worker
}

// Registry gives in-process consumers stable access to hosted modules.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]entry
}

func newRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

func (r *Registry) add(name string, module any, worker *Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, name)
	r.entries[name] = entry{module: module, worker: worker}
}

// Names lists modules in construction order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Worker returns the execution context of the named module.
func (r *Registry) Worker(name string) (*Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.worker, ok
}

// Module returns the named module object.
func (r *Registry) Module(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.module, ok
}

// Lookup returns the named module as T.
func Lookup[T any](r *Registry, name string) (T, error) {
	var zero T
	if r == nil {
		return zero, fmt.Errorf("%s: %w", name, ErrModuleNotFound)
	}
	module, ok := r.Module(name)
	if !ok {
		return zero, fmt.Errorf("%s: %w", name, ErrModuleNotFound)
	}
	typed, ok := module.(T)
	if !ok {
		return zero, fmt.Errorf("module %s is %T, not %s", name, module, reflect.TypeFor[T]())
	}
	return typed, nil
}
