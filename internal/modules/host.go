package modules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"kactivitymanagerd/internal/logging"
)

// DefaultStopTimeout bounds the join of a single module worker.
const DefaultStopTimeout = 5 * time.Second

// ErrStopTimeout is reported for workers that did not exit in time.
var ErrStopTimeout = errors.New("module did not stop in time")

// Env is handed to a module factory while the module is constructed.
type Env struct {
	Worker   *Worker
	Registry *Registry
	Logger   *slog.Logger
}

// Factory builds one named module.
type Factory struct {
	Name string
	New  func(Env) (any, error)
}

// Starter is implemented by modules that need a start step on their worker
// once constructed.
type Starter interface {
	Start(ctx context.Context) error
}

// Stopper is implemented by modules that release resources when asked to stop.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Host owns the module workers for one daemon run.
type Host struct {
	logger      *slog.Logger
	stopTimeout time.Duration

	mu       sync.Mutex
	workers  []*Worker
	registry *Registry
	started  bool

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewHost returns a host whose shutdown joins each worker for at most
// stopTimeout.
func NewHost(logger *slog.Logger, stopTimeout time.Duration) *Host {
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}
	return &Host{
		logger:      logging.NewComponentLogger(logger, "modules"),
		stopTimeout: stopTimeout,
		registry:    newRegistry(),
	}
}

// Registry returns the accessors of started modules.
func (h *Host) Registry() *Registry { return h.registry }

// Start constructs the modules in factory order. Each module is built and
// started on its own worker before the next factory runs. On failure every
// module started so far is shut down and the error is returned.
func (h *Host) Start(ctx context.Context, factories []Factory) (*Registry, error) {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return nil, errors.New("module host already started")
	}
	h.started = true
	h.mu.Unlock()

	seen := make(map[string]struct{}, len(factories))
	for _, factory := range factories {
		if factory.Name == "" || factory.New == nil {
			return nil, h.abort(errors.New("module factory requires a name and constructor"))
		}
		if _, dup := seen[factory.Name]; dup {
			return nil, h.abort(fmt.Errorf("module %s registered twice", factory.Name))
		}
		seen[factory.Name] = struct{}{}

		if err := h.startModule(ctx, factory); err != nil {
			return nil, h.abort(err)
		}
	}
	h.logger.Info("modules started",
		logging.String(logging.FieldEventType, "modules_started"),
		logging.Strings("modules", h.registry.Names()),
	)
	return h.registry, nil
}

func (h *Host) startModule(ctx context.Context, factory Factory) error {
	logger := h.logger.With(logging.String(logging.FieldModule, factory.Name))
	worker := newWorker(factory.Name, logger, h.stopTimeout)

	h.mu.Lock()
	h.workers = append(h.workers, worker)
	h.mu.Unlock()

	go worker.run()

	err := worker.Do(ctx, func(workerCtx context.Context) error {
		module, err := factory.New(Env{Worker: worker, Registry: h.registry, Logger: logger})
		if err != nil {
			return fmt.Errorf("construct module %s: %w", factory.Name, err)
		}
		if stopper, ok := module.(Stopper); ok {
			worker.stopHook = stopper.Stop
		}
		if starter, ok := module.(Starter); ok {
			if err := starter.Start(workerCtx); err != nil {
				return fmt.Errorf("start module %s: %w", factory.Name, err)
			}
		}
		h.registry.add(factory.Name, module, worker)
		return nil
	})
	if err != nil {
		return err
	}
	worker.state.Store(int32(StateRunning))
	logger.Debug("module running", logging.String(logging.FieldEventType, "module_running"))
	return nil
}

func (h *Host) abort(cause error) error {
	logging.ErrorWithContext(h.logger, "module startup failed", "modules_start_failed",
		logging.Error(cause),
		logging.String(logging.FieldErrorHint, "inspect the failing module's configuration and data directory"),
	)
	if err := h.Shutdown(); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// Shutdown stops modules in reverse construction order. Each worker gets a
// cooperative stop request and a bounded join; stuck workers are reported in
// the returned error and abandoned. Calling Shutdown again returns the first
// result.
func (h *Host) Shutdown() error {
	h.shutdownOnce.Do(func() {
		h.mu.Lock()
		workers := slices.Clone(h.workers)
		h.mu.Unlock()
		slices.Reverse(workers)

		var errs []error
		for _, worker := range workers {
			if err := h.stopWorker(worker); err != nil {
				errs = append(errs, err)
			}
		}
		h.shutdownErr = errors.Join(errs...)
		if h.shutdownErr == nil {
			h.logger.Info("modules stopped", logging.String(logging.FieldEventType, "modules_stopped"))
		}
	})
	return h.shutdownErr
}

func (h *Host) stopWorker(worker *Worker) error {
	logger := h.logger.With(logging.String(logging.FieldModule, worker.Name()))
	worker.state.Store(int32(StateStopping))
	worker.cancel()

	timer := time.NewTimer(h.stopTimeout)
	defer timer.Stop()
	select {
	case <-worker.Done():
		if worker.stopErr != nil {
			logging.WarnWithContext(logger, "module stop hook failed", "module_stop_failed",
				logging.Error(worker.stopErr),
				logging.String(logging.FieldImpact, "module resources may not have been released cleanly"),
			)
			return fmt.Errorf("stop module %s: %w", worker.Name(), worker.stopErr)
		}
		logger.Debug("module stopped", logging.String(logging.FieldEventType, "module_stopped"))
		return nil
	case <-timer.C:
		logging.ErrorWithContext(logger, "module stop timed out; abandoning worker", "module_stop_timeout",
			logging.Duration("timeout", h.stopTimeout),
			logging.String(logging.FieldErrorHint, "a work item on this module is blocking; check for stuck I/O"),
		)
		return fmt.Errorf("module %s after %s: %w", worker.Name(), h.stopTimeout, ErrStopTimeout)
	}
}
