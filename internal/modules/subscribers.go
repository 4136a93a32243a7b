package modules

import (
	"slices"
	"sync"
)

// Subscribers is a set of callbacks a module notifies about its changes.
// Callbacks run on the notifying module's worker and must not block.
type Subscribers[T any] struct {
	mu     sync.RWMutex
	nextID int
	fns    map[int]func(T)
}

// Add registers fn and returns a function that removes it again.
func (s *Subscribers[T]) Add(fn func(T)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[int]func(T))
	}
	id := s.nextID
	s.nextID++
	s.fns[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.fns, id)
	}
}

// Notify calls every registered callback with value in registration order.
func (s *Subscribers[T]) Notify(value T) {
	s.mu.RLock()
	ids := make([]int, 0, len(s.fns))
	for id := range s.fns {
		ids = append(ids, id)
	}
	fns := make(map[int]func(T), len(s.fns))
	for id, fn := range s.fns {
		fns[id] = fn
	}
	s.mu.RUnlock()

	slices.Sort(ids)
	for _, id := range ids {
		fns[id](value)
	}
}

// Len reports the number of registered callbacks.
func (s *Subscribers[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.fns)
}
