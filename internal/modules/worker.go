package modules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"kactivitymanagerd/internal/logging"
)

// State is the lifecycle position of a hosted module.
type State int32

const (
	StateConstructing State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateConstructing:
		return "constructing"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	// ErrWorkerStopped is returned for work submitted after a stop request.
	ErrWorkerStopped = errors.New("module worker stopped")
	// ErrPanic wraps a panic recovered from a work item.
	ErrPanic = errors.New("module work item panicked")
)

const mailboxSize = 64

type job struct {
	fn     func(context.Context) error
	result chan error
}

// Worker is the dedicated execution context of one module.
type Worker struct {
	name        string
	logger      *slog.Logger
	mailbox     chan job
	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	state       atomic.Int32
	stopTimeout time.Duration

	stopHook func(context.Context) error
	stopErr  error
}

func newWorker(name string, logger *slog.Logger, stopTimeout time.Duration) *Worker {
	ctx, cancel := context.WithCancel(logging.ContextWithModule(context.Background(), name))
	w := &Worker{
		name:        name,
		logger:      logger,
		mailbox:     make(chan job, mailboxSize),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		stopTimeout: stopTimeout,
	}
	w.state.Store(int32(StateConstructing))
	return w
}

// Name returns the module name the worker serves.
func (w *Worker) Name() string { return w.name }

// State returns the current lifecycle state.
func (w *Worker) State() State { return State(w.state.Load()) }

// Context is canceled when the host asks the module to stop.
func (w *Worker) Context() context.Context { return w.ctx }

// Done is closed once the worker goroutine has exited.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Do runs fn on the worker goroutine and waits for its result. The fn
// receives the worker context, not ctx; ctx only bounds the wait.
func (w *Worker) Do(ctx context.Context, fn func(context.Context) error) error {
	if fn == nil {
		return nil
	}
	j := job{fn: fn, result: make(chan error, 1)}
	if err := w.enqueue(ctx, j); err != nil {
		return err
	}
	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-w.done:
		select {
		case err := <-j.result:
			return err
		default:
			return fmt.Errorf("%s: %w", w.name, ErrWorkerStopped)
		}
	}
}

// Post queues fn on the worker goroutine without waiting for it. Errors
// returned by fn are logged.
func (w *Worker) Post(fn func(context.Context) error) error {
	if fn == nil {
		return nil
	}
	return w.enqueue(context.Background(), job{fn: fn})
}

func (w *Worker) enqueue(ctx context.Context, j job) error {
	if w.stopping() {
		return fmt.Errorf("%s: %w", w.name, ErrWorkerStopped)
	}
	select {
	case w.mailbox <- j:
		return nil
	case <-w.ctx.Done():
		return fmt.Errorf("%s: %w", w.name, ErrWorkerStopped)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) stopping() bool {
	state := w.State()
	return state == StateStopping || state == StateStopped
}

func (w *Worker) run() {
	defer close(w.done)
	for {
		select {
		case <-w.ctx.Done():
			w.finish()
			return
		case j := <-w.mailbox:
			if w.ctx.Err() != nil {
				w.finish()
				return
			}
			err := w.execute(j.fn)
			if j.result != nil {
				j.result <- err
			} else if err != nil {
				logging.WarnWithContext(w.logger, "posted work failed", "module_work_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "asynchronous module update was not applied"),
				)
			}
		}
	}
}

func (w *Worker) execute(fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: %w: %v", w.name, ErrPanic, r)
			logging.ErrorWithContext(w.logger, "module work item panicked", "module_panic",
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
				logging.String(logging.FieldErrorHint, "report this crash together with the daemon log"),
			)
		}
	}()
	return fn(w.ctx)
}

// finish runs the optional stop hook on the worker goroutine.
func (w *Worker) finish() {
	defer w.state.Store(int32(StateStopped))
	if w.stopHook == nil {
		return
	}
	stopCtx, cancel := context.WithTimeout(logging.ContextWithModule(context.Background(), w.name), w.stopTimeout)
	defer cancel()
	w.stopErr = w.execute(func(context.Context) error { return w.stopHook(stopCtx) })
}
