// Package features is a keyed registry of values that plugins publish for
// clients to read, such as the focused resource of each activity.
package features

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"kactivitymanagerd/internal/logging"
	"kactivitymanagerd/internal/modules"
)

// ModuleName is the registry key of the features module.
const ModuleName = "features"

// Change describes a published or removed value.
type Change struct {
	Key     string
	Value   string
	Removed bool
}

// Registry is the features module.
type Registry struct {
	worker *modules.Worker
	logger *slog.Logger

	mu     sync.RWMutex
	values map[string]string

	subscribers modules.Subscribers[Change]
}

// Factory returns the module factory for the features module.
func Factory() modules.Factory {
	return modules.Factory{Name: ModuleName, New: func(env modules.Env) (any, error) {
		return New(env.Worker, env.Logger), nil
	}}
}

// New builds an empty registry bound to worker.
func New(worker *modules.Worker, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Registry{worker: worker, logger: logger, values: make(map[string]string)}
}

// Subscribe registers fn for value changes.
func (r *Registry) Subscribe(fn func(Change)) func() {
	return r.subscribers.Add(fn)
}

// Set publishes value under key. Publishing an unchanged value is a no-op.
func (r *Registry) Set(ctx context.Context, key, value string) error {
	key = strings.Trim(strings.TrimSpace(key), "/")
	if key == "" {
		return errors.New("feature key is required")
	}
	return r.worker.Do(ctx, func(context.Context) error {
		r.mu.Lock()
		previous, existed := r.values[key]
		if existed && previous == value {
			r.mu.Unlock()
			return nil
		}
		r.values[key] = value
		r.mu.Unlock()
		r.subscribers.Notify(Change{Key: key, Value: value})
		return nil
	})
}

// Delete removes key.
func (r *Registry) Delete(ctx context.Context, key string) error {
	key = strings.Trim(strings.TrimSpace(key), "/")
	return r.worker.Do(ctx, func(context.Context) error {
		r.mu.Lock()
		_, existed := r.values[key]
		delete(r.values, key)
		r.mu.Unlock()
		if existed {
			r.subscribers.Notify(Change{Key: key, Removed: true})
		}
		return nil
	})
}

// Get returns the value published under key.
func (r *Registry) Get(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	value, ok := r.values[strings.Trim(key, "/")]
	return value, ok
}

// Keys lists published keys under prefix in sorted order.
func (r *Registry) Keys(prefix string) []string {
	prefix = strings.Trim(prefix, "/")
	r.mu.RLock()
	keys := make([]string, 0, len(r.values))
	for key := range r.values {
		if prefix == "" || key == prefix || strings.HasPrefix(key, prefix+"/") {
			keys = append(keys, key)
		}
	}
	r.mu.RUnlock()
	slices.Sort(keys)
	return keys
}
