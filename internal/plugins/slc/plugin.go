// Package slc tracks the focused resource of every activity and publishes it
// into the features module under slc/focused/<activity id>.
package slc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"kactivitymanagerd/internal/features"
	"kactivitymanagerd/internal/logging"
	"kactivitymanagerd/internal/modules"
	"kactivitymanagerd/internal/plugins"
	"kactivitymanagerd/internal/resources"
)

// KeyPrefix is the features namespace the plugin writes.
const KeyPrefix = "slc/focused"

// Key returns the features key holding the focused resource of activity.
func Key(activity string) string {
	return KeyPrefix + "/" + activity
}

// Builtin registers the plugin under its well-known identifier.
func Builtin() plugins.Builtin {
	return plugins.Builtin{ID: plugins.SLCID, New: func() plugins.Plugin { return New() }}
}

// Plugin follows focus events.
type Plugin struct {
	logger   *slog.Logger
	features *features.Registry
	unsub    func()

	ctx    context.Context
	cancel context.CancelFunc
	events chan resources.Event
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	focused map[string]string
}

// New returns an uninitialized plugin.
func New() *Plugin {
	return &Plugin{focused: make(map[string]string)}
}

func (p *Plugin) Init(env plugins.Env) error {
	p.logger = env.Logger
	if p.logger == nil {
		p.logger = logging.NewNop()
	}
	scorer, err := modules.Lookup[*resources.Scorer](env.Modules, resources.ModuleName)
	if err != nil {
		return fmt.Errorf("slc requires resources: %w", err)
	}
	registry, err := modules.Lookup[*features.Registry](env.Modules, features.ModuleName)
	if err != nil {
		return fmt.Errorf("slc requires features: %w", err)
	}
	p.features = registry
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.events = make(chan resources.Event, 64)

	p.wg.Add(1)
	go p.run()
	p.unsub = scorer.Subscribe(p.observe)
	return nil
}

// Focused returns the resource last focused in activity.
func (p *Plugin) Focused(activity string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	uri, ok := p.focused[activity]
	return uri, ok
}

func (p *Plugin) observe(evt resources.Event) {
	if evt.Type != resources.FocusedIn && evt.Type != resources.FocusedOut && evt.Type != resources.Closed {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.events <- evt:
	default:
		p.logger.Debug("focus event dropped", logging.String("uri", evt.URI))
	}
}

func (p *Plugin) run() {
	defer p.wg.Done()
	for evt := range p.events {
		if err := p.apply(evt); err != nil {
			logging.WarnWithContext(p.logger, "focused resource not published", "slc_publish_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "clients may show a stale focused resource"),
			)
		}
	}
}

func (p *Plugin) apply(evt resources.Event) error {
	key := Key(evt.Activity)
	p.mu.Lock()
	current, has := p.focused[evt.Activity]
	switch {
	case evt.Type == resources.FocusedIn:
		if has && current == evt.URI {
			p.mu.Unlock()
			return nil
		}
		p.focused[evt.Activity] = evt.URI
		p.mu.Unlock()
		return p.features.Set(p.ctx, key, evt.URI)
	case has && current == evt.URI:
		delete(p.focused, evt.Activity)
		p.mu.Unlock()
		return p.features.Delete(p.ctx, key)
	default:
		p.mu.Unlock()
		return nil
	}
}

func (p *Plugin) Close() error {
	if p.unsub != nil {
		p.unsub()
		p.unsub = nil
	}
	p.mu.Lock()
	if p.closed || p.events == nil {
		p.closed = true
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
	return nil
}
