// Package sqlite is the core persistence plugin. It stores every resource
// event and activity change in <data_dir>/database.sqlite and periodically
// prunes old resource history.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"kactivitymanagerd/internal/activities"
	"kactivitymanagerd/internal/logging"
	"kactivitymanagerd/internal/modules"
	"kactivitymanagerd/internal/plugins"
	"kactivitymanagerd/internal/resources"
)

const queueSize = 256

// Options configures history retention.
type Options struct {
	PruneSchedule string
	RetentionDays int
}

// Builtin registers the plugin under its well-known identifier.
func Builtin(opts Options) plugins.Builtin {
	return plugins.Builtin{ID: plugins.SQLiteID, New: func() plugins.Plugin { return New(opts) }}
}

type write func(ctx context.Context, store *Store) error

// Plugin persists module events.
type Plugin struct {
	opts   Options
	logger *slog.Logger
	store  *Store
	cron   *cron.Cron
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	unsubs []func()
	queue  chan write
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New returns an uninitialized plugin.
func New(opts Options) *Plugin {
	return &Plugin{opts: opts, now: time.Now}
}

// Store exposes the underlying database once initialized.
func (p *Plugin) Store() *Store { return p.store }

func (p *Plugin) Init(env plugins.Env) error {
	p.logger = env.Logger
	if p.logger == nil {
		p.logger = logging.NewNop()
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())

	store, err := Open(p.ctx, env.DataDir)
	if err != nil {
		p.cancel()
		return err
	}
	p.store = store
	p.queue = make(chan write, queueSize)

	p.wg.Add(1)
	go p.drain()

	if manager, err := modules.Lookup[*activities.Manager](env.Modules, activities.ModuleName); err == nil {
		for _, activity := range manager.List() {
			p.enqueue(activityWrite(activities.Event{Kind: activities.EventAdded, Activity: activity}, p.now()))
		}
		p.unsubs = append(p.unsubs, manager.Subscribe(func(evt activities.Event) {
			p.enqueue(activityWrite(evt, p.now()))
		}))
	} else {
		p.logger.Debug("activities module unavailable; activity history disabled", logging.Error(err))
	}

	if scorer, err := modules.Lookup[*resources.Scorer](env.Modules, resources.ModuleName); err == nil {
		p.unsubs = append(p.unsubs, scorer.Subscribe(func(evt resources.Event) {
			p.enqueue(func(ctx context.Context, store *Store) error {
				return store.RecordResourceEvent(ctx, evt)
			})
		}))
	} else {
		p.logger.Debug("resources module unavailable; resource history disabled", logging.Error(err))
	}

	if p.opts.PruneSchedule != "" && p.opts.RetentionDays > 0 {
		p.cron = cron.New()
		if _, err := p.cron.AddFunc(p.opts.PruneSchedule, func() { p.enqueue(p.pruneWrite()) }); err != nil {
			_ = p.Close()
			return fmt.Errorf("schedule prune %q: %w", p.opts.PruneSchedule, err)
		}
		p.cron.Start()
	}

	p.logger.Info("persistence ready",
		logging.String(logging.FieldEventType, "persistence_ready"),
		logging.String("database", store.Path()),
	)
	return nil
}

// Prune removes resource events older than the retention window now.
func (p *Plugin) Prune(ctx context.Context) (int64, error) {
	if p.store == nil {
		return 0, errors.New("persistence plugin not initialized")
	}
	if p.opts.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := p.now().AddDate(0, 0, -p.opts.RetentionDays)
	return p.store.PruneBefore(ctx, cutoff)
}

// Flush blocks until every event queued so far has been written.
func (p *Plugin) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if !p.enqueue(func(context.Context, *Store) error { close(done); return nil }) {
		return errors.New("persistence plugin closed")
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Plugin) pruneWrite() write {
	return func(ctx context.Context, _ *Store) error {
		removed, err := p.Prune(ctx)
		if err != nil {
			return err
		}
		if removed > 0 {
			p.logger.Info("resource history pruned",
				logging.String(logging.FieldEventType, "persistence_pruned"),
				logging.Any("removed", removed),
			)
		}
		return nil
	}
}

func activityWrite(evt activities.Event, at time.Time) write {
	return func(ctx context.Context, store *Store) error {
		return store.RecordActivityEvent(ctx, evt, at)
	}
}

// enqueue hands w to the writer goroutine. Module workers call it from
// subscriber callbacks, so it never blocks: a full queue drops the write.
func (p *Plugin) enqueue(w write) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.queue == nil {
		return false
	}
	select {
	case p.queue <- w:
		return true
	default:
		logging.WarnWithContext(p.logger, "persistence queue full; event dropped", "persistence_dropped",
			logging.String(logging.FieldImpact, "an event is missing from usage history"),
			logging.String(logging.FieldErrorHint, "check disk latency of paths.data_dir"),
		)
		return false
	}
}

func (p *Plugin) drain() {
	defer p.wg.Done()
	for w := range p.queue {
		if err := w(p.ctx, p.store); err != nil {
			logging.WarnWithContext(p.logger, "persistence write failed", "persistence_write_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "an event is missing from usage history"),
			)
		}
	}
}

func (p *Plugin) Close() error {
	for _, unsubscribe := range p.unsubs {
		unsubscribe()
	}
	p.unsubs = nil
	if p.cron != nil {
		<-p.cron.Stop().Done()
	}

	p.mu.Lock()
	alreadyClosed := p.closed
	p.closed = true
	if !alreadyClosed && p.queue != nil {
		close(p.queue)
	}
	p.mu.Unlock()
	if alreadyClosed {
		return nil
	}

	p.wg.Wait()
	if p.cancel != nil {
		p.cancel()
	}
	return p.store.Close()
}
