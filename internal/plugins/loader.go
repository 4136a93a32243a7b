package plugins

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"kactivitymanagerd/internal/logging"
)

// Load stages reported in LoadError.
const (
	StageOpen    = "open"
	StageSymbol  = "symbol"
	StageVersion = "version"
	StageCreate  = "create"
	StageInit    = "init"
)

// LoadError describes why a candidate was skipped.
type LoadError struct {
	ID    string
	Stage string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("plugin %s: %s: %v", e.ID, e.Stage, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ErrAPIVersion reports an artifact built against another plugin API revision.
var ErrAPIVersion = errors.New("plugin api version mismatch")

// Loader instantiates candidates.
type Loader struct {
	opener Opener
	logger *slog.Logger
}

// NewLoader returns a loader using opener for artifacts. A nil opener uses
// the Go plugin package.
func NewLoader(opener Opener, logger *slog.Logger) *Loader {
	if opener == nil {
		opener = GoPluginOpener{}
	}
	return &Loader{opener: opener, logger: logging.NewComponentLogger(logger, "plugins")}
}

// Load instantiates one candidate without initializing it.
func (l *Loader) Load(candidate Candidate) (p Plugin, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &LoadError{ID: candidate.ID, Stage: StageCreate, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if candidate.Builtin() {
		p = candidate.builtin()
		if p == nil {
			return nil, &LoadError{ID: candidate.ID, Stage: StageCreate, Err: errors.New("factory returned nil")}
		}
		return p, nil
	}

	symbols, err := l.opener.Open(candidate.Path)
	if err != nil {
		return nil, &LoadError{ID: candidate.ID, Stage: StageOpen, Err: err}
	}
	if err := checkAPIVersion(symbols); err != nil {
		return nil, &LoadError{ID: candidate.ID, Stage: StageVersion, Err: err}
	}
	sym, err := symbols.Lookup(SymbolNew)
	if err != nil {
		return nil, &LoadError{ID: candidate.ID, Stage: StageSymbol, Err: err}
	}
	var factory func() Plugin
	switch fn := sym.(type) {
	case func() Plugin:
		factory = fn
	case *func() Plugin:
		if fn != nil {
			factory = *fn
		}
	}
	if factory == nil {
		return nil, &LoadError{ID: candidate.ID, Stage: StageSymbol, Err: fmt.Errorf("%s has type %T, want func() plugins.Plugin", SymbolNew, sym)}
	}
	if p = factory(); p == nil {
		return nil, &LoadError{ID: candidate.ID, Stage: StageCreate, Err: errors.New("NewPlugin returned nil")}
	}
	return p, nil
}

func checkAPIVersion(symbols Symbols) error {
	sym, err := symbols.Lookup(SymbolAPIVersion)
	if err != nil {
		return err
	}
	var version int
	switch v := sym.(type) {
	case *int:
		if v == nil {
			return fmt.Errorf("%s is nil", SymbolAPIVersion)
		}
		version = *v
	case int:
		version = v
	default:
		return fmt.Errorf("%s has type %T, want int", SymbolAPIVersion, sym)
	}
	if version != APIVersion {
		return fmt.Errorf("%w: artifact %d, daemon %d", ErrAPIVersion, version, APIVersion)
	}
	return nil
}

// Init calls p.Init, turning a panic into an error.
func Init(p Plugin, env Env) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during init: %v", r)
		}
	}()
	return p.Init(env)
}

// LoadAll loads and initializes candidates in order. Failures are logged as
// warnings and skipped.
func (l *Loader) LoadAll(ctx context.Context, candidates []Candidate, env Env) *Set {
	set := &Set{logger: l.logger}
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			break
		}
		logger := l.logger.With(logging.String(logging.FieldPlugin, candidate.ID))

		p, err := l.Load(candidate)
		if err != nil {
			l.warnSkipped(logger, candidate, err)
			continue
		}

		pluginEnv := env
		pluginEnv.Logger = logging.WithContext(logging.ContextWithPlugin(ctx, candidate.ID), env.Logger)
		if err := Init(p, pluginEnv); err != nil {
			closePlugin(logger, candidate.ID, p)
			l.warnSkipped(logger, candidate, &LoadError{ID: candidate.ID, Stage: StageInit, Err: err})
			continue
		}

		set.loaded = append(set.loaded, loaded{id: candidate.ID, plugin: p})
		logger.Info("plugin loaded",
			logging.String(logging.FieldEventType, "plugin_loaded"),
			logging.String("name", DisplayName(candidate.ID)),
			logging.String("source", candidate.Source()),
		)
	}
	return set
}

func (l *Loader) warnSkipped(logger *slog.Logger, candidate Candidate, err error) {
	logging.WarnWithContext(logger, "plugin skipped", "plugin_load_failed",
		logging.Error(err),
		logging.String("source", candidate.Source()),
		logging.String(logging.FieldErrorHint, "rebuild the plugin against this daemon or disable it in [plugins]"),
		logging.String(logging.FieldImpact, "features provided by this plugin are unavailable"),
	)
}

type loaded struct {
	id     string
	plugin Plugin
}

// Set holds the initialized plugins of one daemon run.
type Set struct {
	logger *slog.Logger
	loaded []loaded
	closed bool
}

// IDs lists initialized plugins in load order.
func (s *Set) IDs() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, 0, len(s.loaded))
	for _, l := range s.loaded {
		ids = append(ids, l.id)
	}
	return ids
}

// Close tears plugins down in reverse load order. Errors and panics are
// collected; every plugin gets its Close call. Closing twice is a no-op.
func (s *Set) Close() error {
	if s == nil || s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	for _, l := range slices.Backward(s.loaded) {
		logger := s.logger.With(logging.String(logging.FieldPlugin, l.id))
		if err := closePlugin(logger, l.id, l.plugin); err != nil {
			errs = append(errs, err)
		}
	}
	s.loaded = nil
	return errors.Join(errs...)
}

func closePlugin(logger *slog.Logger, id string, p Plugin) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin %s: panic during close: %v", id, r)
		}
		if err != nil {
			logging.WarnWithContext(logger, "plugin close failed", "plugin_close_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "plugin resources may not have been released"),
			)
		}
	}()
	if cerr := p.Close(); cerr != nil {
		return fmt.Errorf("plugin %s: close: %w", id, cerr)
	}
	return nil
}
