// Package daemonrun hosts the start-daemon process: it sets up per-run
// logging, assembles the modules and built-in plugins and runs the daemon
// until a quit request or signal.
package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"kactivitymanagerd/internal/activities"
	"kactivitymanagerd/internal/config"
	"kactivitymanagerd/internal/daemon"
	"kactivitymanagerd/internal/features"
	"kactivitymanagerd/internal/logging"
	"kactivitymanagerd/internal/modules"
	"kactivitymanagerd/internal/plugins"
	"kactivitymanagerd/internal/plugins/runapplication"
	"kactivitymanagerd/internal/plugins/slc"
	"kactivitymanagerd/internal/plugins/sqlite"
	"kactivitymanagerd/internal/resources"
)

const (
	logPrefix      = "kactivitymanagerd-"
	currentLogName = "kactivitymanagerd.log"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
	// Console keeps log output on stdout in addition to the run log.
	Console bool
}

// Modules returns the module set in construction order.
func Modules() []modules.Factory {
	return []modules.Factory{
		activities.Factory(),
		resources.Factory(),
		features.Factory(),
	}
}

// Builtins returns the plugins compiled into the daemon.
func Builtins(cfg *config.Config) []plugins.Builtin {
	return []plugins.Builtin{
		sqlite.Builtin(sqlite.Options{
			PruneSchedule: cfg.Persistence.PruneSchedule,
			RetentionDays: cfg.Persistence.RetentionDays,
		}),
		slc.Builtin(),
		runapplication.Builtin(),
	}
}

// Run starts the daemon runtime loop. When another daemon already holds the
// endpoint Run returns nil and leaves no trace of its own run.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("%s%s.log", logPrefix, runID))
	outputs := []string{logPath}
	errorOutputs := []string{logPath}
	if opts.Console {
		outputs = append(outputs, "stdout")
		errorOutputs = append(errorOutputs, "stderr")
	}
	level := cfg.Logging.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      outputs,
		ErrorOutputPaths: errorOutputs,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	sessionID := uuid.NewString()
	logger = logging.WithSessionID(logger, sessionID)

	d, err := daemon.New(cfg, logger, daemon.Options{
		Version:  daemon.Version,
		Modules:  Modules(),
		Builtins: Builtins(cfg),
		Claimed: func() {
			if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
				logging.WarnWithContext(logger, "log pointer not updated", "log_pointer_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, currentLogName+" may point at an older run"),
				)
			}
			logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
				logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: logPrefix + "*.log", Exclude: []string{logPath}},
			)
		},
	})
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}

	logger.Info("kactivitymanagerd starting",
		logging.String(logging.FieldEventType, "daemon_starting"),
		logging.String("version", daemon.Version),
		logging.String("runtime_dir", cfg.Paths.RuntimeDir),
		logging.String("data_dir", cfg.Paths.DataDir),
		logging.String("plugin_dir", cfg.Paths.PluginDir),
	)
	if err := d.Run(signalCtx); err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			_ = os.Remove(logPath)
			return nil
		}
		logging.ErrorWithContext(logger, "daemon exited with error", "daemon_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "see earlier warnings in "+logPath),
		)
		return err
	}
	return nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, currentLogName)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}
