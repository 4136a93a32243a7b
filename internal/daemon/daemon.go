package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"kactivitymanagerd/internal/config"
	"kactivitymanagerd/internal/endpoint"
	"kactivitymanagerd/internal/ipc"
	"kactivitymanagerd/internal/logging"
	"kactivitymanagerd/internal/modules"
	"kactivitymanagerd/internal/plugins"
	"kactivitymanagerd/internal/singleton"
)

// Version is the daemon's semantic version reported by ServiceVersion.
var Version = "6.3.0"

// ErrAlreadyRunning reports that another daemon holds the endpoint.
var ErrAlreadyRunning = errors.New("daemon already running")

// Options selects what the daemon hosts.
type Options struct {
	Version  string
	Modules  []modules.Factory
	Builtins []plugins.Builtin
	// Opener loads on-disk plugin artifacts. Nil uses the Go plugin package.
	Opener plugins.Opener
	// Claimed runs once the endpoint is held, before any module starts.
	Claimed func()
}

// Daemon is a single run of the service.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	opts     Options
	endpoint endpoint.Endpoint

	quit     chan struct{}
	quitOnce sync.Once
	running  atomic.Bool
	plugins  atomic.Pointer[plugins.Set]
}

// New constructs a daemon for cfg.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.Version == "" {
		opts.Version = Version
	}
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		opts:     opts,
		endpoint: endpoint.FromConfig(cfg),
		quit:     make(chan struct{}),
	}, nil
}

// Endpoint returns the endpoint the daemon claims.
func (d *Daemon) Endpoint() endpoint.Endpoint { return d.endpoint }

// Version implements ipc.Controller.
func (d *Daemon) Version() string { return d.opts.Version }

// RequestQuit implements ipc.Controller. It returns immediately; Run performs
// the shutdown.
func (d *Daemon) RequestQuit() {
	d.quitOnce.Do(func() { close(d.quit) })
}

// Running reports whether Run is between startup and shutdown.
func (d *Daemon) Running() bool { return d.running.Load() }

// PluginIDs lists the plugins initialized by the current run.
func (d *Daemon) PluginIDs() []string { return d.plugins.Load().IDs() }

// Run performs the full daemon lifecycle and blocks until ctx is cancelled or
// a quit is requested. ErrAlreadyRunning means another process holds the
// endpoint and nothing was started.
func (d *Daemon) Run(ctx context.Context) (err error) {
	claim, err := singleton.Acquire(d.endpoint)
	if err != nil {
		if errors.Is(err, singleton.ErrAlreadyHeld) {
			return fmt.Errorf("%s: %w", d.endpoint, ErrAlreadyRunning)
		}
		return fmt.Errorf("claim endpoint: %w", err)
	}
	defer func() {
		if releaseErr := claim.Release(); releaseErr != nil {
			err = errors.Join(err, releaseErr)
		}
	}()
	if d.opts.Claimed != nil {
		d.opts.Claimed()
	}

	pidPath := d.endpoint.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		logging.WarnWithContext(d.logger, "pid file not written", "daemon_pid_failed",
			logging.String("path", pidPath),
			logging.Error(err),
			logging.String(logging.FieldImpact, "diagnostics cannot find the daemon pid"),
		)
	} else {
		defer os.Remove(pidPath)
	}

	host := modules.NewHost(d.logger, d.cfg.ModuleStopTimeout())
	registry, err := host.Start(ctx, d.opts.Modules)
	if err != nil {
		return fmt.Errorf("start modules: %w", err)
	}

	set := d.loadPlugins(ctx, registry)
	d.plugins.Store(set)

	server, err := ipc.NewServer(ctx, d.endpoint.SocketPath(), d, d.logger)
	if err != nil {
		closeErr := d.shutdown(set, host, nil)
		return errors.Join(fmt.Errorf("start IPC server: %w", err), closeErr)
	}
	server.Serve()
	d.running.Store(true)

	d.logger.Info("daemon ready",
		logging.String(logging.FieldEventType, "daemon_ready"),
		logging.String("endpoint", d.endpoint.String()),
		logging.String("socket", server.Path()),
		logging.String("version", d.opts.Version),
		logging.Strings("modules", registry.Names()),
		logging.Strings("plugins", set.IDs()),
	)

	select {
	case <-ctx.Done():
		d.logger.Info("daemon interrupted", logging.String(logging.FieldEventType, "daemon_signal"))
	case <-d.quit:
	}
	return d.shutdown(set, host, server)
}

func (d *Daemon) loadPlugins(ctx context.Context, registry *modules.Registry) *plugins.Set {
	discovered, err := plugins.Discover(d.cfg.Paths.PluginDir, d.cfg.Service.PluginPattern)
	if err != nil {
		logging.WarnWithContext(d.logger, "plugin discovery failed", "plugin_discovery_failed",
			logging.String("dir", d.cfg.Paths.PluginDir),
			logging.Error(err),
			logging.String(logging.FieldImpact, "only built-in plugins are loaded"),
			logging.String(logging.FieldErrorHint, "check paths.plugin_dir permissions"),
		)
	}
	catalog := plugins.Catalog(d.opts.Builtins, discovered)
	enabled := plugins.FilterEnabled(catalog, plugins.NewPolicy(d.cfg.Plugins))
	loader := plugins.NewLoader(d.opts.Opener, d.logger)
	return loader.LoadAll(ctx, enabled, plugins.Env{
		Modules: registry,
		Logger:  d.logger,
		DataDir: d.cfg.Paths.DataDir,
	})
}

// shutdown stops plugins, then modules, then the control socket.
func (d *Daemon) shutdown(set *plugins.Set, host *modules.Host, server *ipc.Server) error {
	d.running.Store(false)
	d.logger.Info("daemon shutting down", logging.String(logging.FieldEventType, "daemon_stopping"))
	if server != nil {
		server.BeginShutdown()
	}

	var errs []error
	if err := set.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close plugins: %w", err))
	}
	if err := host.Shutdown(); err != nil {
		errs = append(errs, fmt.Errorf("stop modules: %w", err))
	}
	if server != nil {
		server.Close()
	}

	err := errors.Join(errs...)
	if err != nil {
		logging.WarnWithContext(d.logger, "daemon stopped with errors", "daemon_stopped",
			logging.Error(err),
			logging.String(logging.FieldImpact, "some plugin or module did not stop cleanly"),
		)
		return err
	}
	d.logger.Info("daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
	return nil
}

func writePIDFile(path string) error {
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
