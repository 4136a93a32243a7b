// Package resources records resource usage events (documents, URLs, files)
// against the current activity and fans them out to subscribers such as the
// persistence and continuity plugins.
package resources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"kactivitymanagerd/internal/activities"
	"kactivitymanagerd/internal/logging"
	"kactivitymanagerd/internal/modules"
)

// ModuleName is the registry key of the resources module.
const ModuleName = "resources"

// EventType is the kind of interaction with a resource.
type EventType int

const (
	Accessed EventType = iota
	Opened
	Modified
	Closed
	FocusedIn
	FocusedOut
)

var eventTypeNames = map[EventType]string{
	Accessed:   "accessed",
	Opened:     "opened",
	Modified:   "modified",
	Closed:     "closed",
	FocusedIn:  "focused_in",
	FocusedOut: "focused_out",
}

func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(t))
}

// ParseEventType maps a name produced by String back to the type.
func ParseEventType(name string) (EventType, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for kind, candidate := range eventTypeNames {
		if candidate == name {
			return kind, true
		}
	}
	return 0, false
}

// Event is one resource interaction.
type Event struct {
	Application string
	URI         string
	Type        EventType
	Activity    string
	Timestamp   time.Time
}

// Usage aggregates interactions with one resource in one activity.
type Usage struct {
	URI        string
	Activity   string
	Count      int
	LastUpdate time.Time
}

// Scorer is the resources module.
type Scorer struct {
	worker     *modules.Worker
	activities *activities.Manager
	logger     *slog.Logger
	now        func() time.Time

	mu    sync.RWMutex
	usage map[usageKey]*Usage

	subscribers modules.Subscribers[Event]
}

type usageKey struct {
	activity string
	uri      string
}

// Factory returns the module factory. The activities module must already be
// registered.
func Factory() modules.Factory {
	return modules.Factory{Name: ModuleName, New: func(env modules.Env) (any, error) {
		manager, err := modules.Lookup[*activities.Manager](env.Registry, activities.ModuleName)
		if err != nil {
			return nil, fmt.Errorf("resources requires activities: %w", err)
		}
		return New(env.Worker, manager, env.Logger), nil
	}}
}

// New builds a scorer bound to worker.
func New(worker *modules.Worker, manager *activities.Manager, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scorer{
		worker:     worker,
		activities: manager,
		logger:     logger,
		now:        time.Now,
		usage:      make(map[usageKey]*Usage),
	}
}

// Subscribe registers fn for recorded events.
func (s *Scorer) Subscribe(fn func(Event)) func() {
	return s.subscribers.Add(fn)
}

// Record stores an event. An empty Activity is filled with the current
// activity and a zero Timestamp with the current time.
func (s *Scorer) Record(ctx context.Context, event Event) error {
	event.URI = strings.TrimSpace(event.URI)
	if event.URI == "" {
		return errors.New("resource event requires a uri")
	}
	return s.worker.Do(ctx, func(context.Context) error {
		if event.Activity == "" && s.activities != nil {
			event.Activity = s.activities.Current()
		}
		if event.Timestamp.IsZero() {
			event.Timestamp = s.now()
		}
		s.apply(event)
		s.subscribers.Notify(event)
		return nil
	})
}

func (s *Scorer) apply(event Event) {
	if event.Type == FocusedOut || event.Type == Closed {
		return
	}
	key := usageKey{activity: event.Activity, uri: event.URI}
	s.mu.Lock()
	defer s.mu.Unlock()
	usage, ok := s.usage[key]
	if !ok {
		usage = &Usage{URI: event.URI, Activity: event.Activity}
		s.usage[key] = usage
	}
	usage.Count++
	usage.LastUpdate = event.Timestamp
}

// Top returns up to limit resources of an activity ordered by count, most
// recent first on ties.
func (s *Scorer) Top(activity string, limit int) []Usage {
	s.mu.RLock()
	out := make([]Usage, 0)
	for key, usage := range s.usage {
		if key.activity == activity {
			out = append(out, *usage)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].LastUpdate.After(out[j].LastUpdate)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Forget drops usage statistics of an activity, or of every activity when
// activity is empty.
func (s *Scorer) Forget(ctx context.Context, activity string) error {
	return s.worker.Do(ctx, func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		for key := range s.usage {
			if activity == "" || key.activity == activity {
				delete(s.usage, key)
			}
		}
		return nil
	})
}
