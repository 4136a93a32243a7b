// Package activities tracks the user's activities and which one is current.
package activities

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"kactivitymanagerd/internal/logging"
	"kactivitymanagerd/internal/modules"
)

// ModuleName is the registry key of the activities module.
const ModuleName = "activities"

// DefaultActivityName names the activity created on first start.
const DefaultActivityName = "Default"

// State of an activity.
type State int

const (
	StateStopped State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "stopped"
}

// Activity is one user activity.
type Activity struct {
	ID    string
	Name  string
	State State
}

// EventKind classifies an activity change.
type EventKind int

const (
	EventAdded EventKind = iota
	EventRemoved
	EventCurrentChanged
	EventStateChanged
)

func (k EventKind) String() string {
	switch k {
	case EventAdded:
		return "added"
	case EventRemoved:
		return "removed"
	case EventCurrentChanged:
		return "current_changed"
	case EventStateChanged:
		return "state_changed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event describes an activity change.
type Event struct {
	Kind     EventKind
	Activity Activity
}

var (
	ErrNotFound   = errors.New("activity not found")
	ErrLastActive = errors.New("cannot remove the last activity")
)

// Manager owns the activity set. Reads are safe from any goroutine; changes
// are applied on the module's worker and announced to subscribers there.
type Manager struct {
	worker *modules.Worker
	logger *slog.Logger

	mu         sync.RWMutex
	order      []string
	activities map[string]Activity
	current    string

	subscribers modules.Subscribers[Event]
}

// Factory returns the module factory for the activities module.
func Factory() modules.Factory {
	return modules.Factory{Name: ModuleName, New: func(env modules.Env) (any, error) {
		return New(env.Worker, env.Logger), nil
	}}
}

// New builds an empty manager bound to worker.
func New(worker *modules.Worker, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{worker: worker, logger: logger, activities: make(map[string]Activity)}
}

// Start creates and activates the default activity when none exists.
func (m *Manager) Start(context.Context) error {
	if len(m.List()) > 0 {
		return nil
	}
	id := m.add(DefaultActivityName)
	m.setCurrent(id)
	m.logger.Info("default activity created",
		logging.String(logging.FieldEventType, "activity_default_created"),
		logging.String("activity_id", id),
	)
	return nil
}

// Subscribe registers fn for activity changes. The returned func unsubscribes.
func (m *Manager) Subscribe(fn func(Event)) func() {
	return m.subscribers.Add(fn)
}

// List returns all activities in creation order.
func (m *Manager) List() []Activity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Activity, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.activities[id])
	}
	return out
}

// Get returns the activity with id.
func (m *Manager) Get(id string) (Activity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	activity, ok := m.activities[id]
	return activity, ok
}

// Current returns the id of the current activity, or "" when there is none.
func (m *Manager) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Add creates a running activity and returns its id.
func (m *Manager) Add(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("activity name is required")
	}
	var id string
	err := m.worker.Do(ctx, func(context.Context) error {
		id = m.add(name)
		return nil
	})
	return id, err
}

// SetCurrent switches the current activity.
func (m *Manager) SetCurrent(ctx context.Context, id string) error {
	return m.worker.Do(ctx, func(context.Context) error {
		if _, ok := m.Get(id); !ok {
			return fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		m.setCurrent(id)
		return nil
	})
}

// StopActivity marks an activity stopped. Stopping the current activity switches to
// the next running one.
func (m *Manager) StopActivity(ctx context.Context, id string) error {
	return m.setState(ctx, id, StateStopped)
}

// StartActivity marks an activity running.
func (m *Manager) StartActivity(ctx context.Context, id string) error {
	return m.setState(ctx, id, StateRunning)
}

// Remove deletes an activity. The last remaining activity cannot be removed.
func (m *Manager) Remove(ctx context.Context, id string) error {
	return m.worker.Do(ctx, func(context.Context) error {
		m.mu.Lock()
		activity, ok := m.activities[id]
		if !ok {
			m.mu.Unlock()
			return fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		if len(m.order) == 1 {
			m.mu.Unlock()
			return ErrLastActive
		}
		delete(m.activities, id)
		m.order = slices.DeleteFunc(m.order, func(candidate string) bool { return candidate == id })
		wasCurrent := m.current == id
		m.mu.Unlock()

		m.subscribers.Notify(Event{Kind: EventRemoved, Activity: activity})
		if wasCurrent {
			m.setCurrent(m.nextRunning(""))
		}
		return nil
	})
}

func (m *Manager) add(name string) string {
	activity := Activity{ID: uuid.NewString(), Name: name, State: StateRunning}
	m.mu.Lock()
	m.activities[activity.ID] = activity
	m.order = append(m.order, activity.ID)
	m.mu.Unlock()
	m.subscribers.Notify(Event{Kind: EventAdded, Activity: activity})
	return activity.ID
}

func (m *Manager) setCurrent(id string) {
	m.mu.Lock()
	if m.current == id {
		m.mu.Unlock()
		return
	}
	m.current = id
	activity := m.activities[id]
	m.mu.Unlock()
	m.logger.Debug("current activity changed", logging.String("activity_id", id))
	m.subscribers.Notify(Event{Kind: EventCurrentChanged, Activity: activity})
}

func (m *Manager) setState(ctx context.Context, id string, state State) error {
	return m.worker.Do(ctx, func(context.Context) error {
		m.mu.Lock()
		activity, ok := m.activities[id]
		if !ok {
			m.mu.Unlock()
			return fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		if activity.State == state {
			m.mu.Unlock()
			return nil
		}
		activity.State = state
		m.activities[id] = activity
		wasCurrent := m.current == id
		m.mu.Unlock()

		m.subscribers.Notify(Event{Kind: EventStateChanged, Activity: activity})
		if state == StateStopped && wasCurrent {
			if next := m.nextRunning(id); next != "" {
				m.setCurrent(next)
			}
		}
		return nil
	})
}

func (m *Manager) nextRunning(exclude string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.order {
		if id != exclude && m.activities[id].State == StateRunning {
			return id
		}
	}
	return ""
}
