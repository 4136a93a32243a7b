// Package runapplication launches user scripts when activities switch.
//
// Executables in <data_dir>/activities/<id>/activated/ run when the activity
// becomes current, and those in deactivated/ run for the activity that was
// current before. Each is started detached and never waited on by the daemon.
package runapplication

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"syscall"

	"kactivitymanagerd/internal/activities"
	"kactivitymanagerd/internal/logging"
	"kactivitymanagerd/internal/modules"
	"kactivitymanagerd/internal/plugins"
)

const (
	ActivatedDir   = "activated"
	DeactivatedDir = "deactivated"
)

// Launcher starts one executable.
type Launcher func(path string) error

// Builtin registers the plugin under its well-known identifier.
func Builtin() plugins.Builtin {
	return plugins.Builtin{ID: plugins.RunApplicationID, New: func() plugins.Plugin { return New(nil) }}
}

// Plugin watches for current activity changes.
type Plugin struct {
	launch Launcher
	logger *slog.Logger
	root   string
	unsub  func()

	switches chan activitySwitch
	wg       sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	current string
}

type activitySwitch struct {
	from string
	to   string
}

// New returns an uninitialized plugin. A nil launcher starts processes in
// their own session with stdio detached.
func New(launch Launcher) *Plugin {
	if launch == nil {
		launch = startDetached
	}
	return &Plugin{launch: launch}
}

func (p *Plugin) Init(env plugins.Env) error {
	p.logger = env.Logger
	if p.logger == nil {
		p.logger = logging.NewNop()
	}
	if env.DataDir == "" {
		return errors.New("runapplication requires a data directory")
	}
	manager, err := modules.Lookup[*activities.Manager](env.Modules, activities.ModuleName)
	if err != nil {
		return fmt.Errorf("runapplication requires activities: %w", err)
	}
	p.root = filepath.Join(env.DataDir, "activities")
	p.current = manager.Current()
	p.switches = make(chan activitySwitch, 16)

	p.wg.Add(1)
	go p.run()
	p.unsub = manager.Subscribe(p.observe)
	return nil
}

// ScriptDir returns the directory scanned for activity when it reaches the
// given transition.
func (p *Plugin) ScriptDir(activity, transition string) string {
	return filepath.Join(p.root, activity, transition)
}

func (p *Plugin) observe(evt activities.Event) {
	if evt.Kind != activities.EventCurrentChanged {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.current == evt.Activity.ID {
		return
	}
	next := activitySwitch{from: p.current, to: evt.Activity.ID}
	p.current = evt.Activity.ID
	select {
	case p.switches <- next:
	default:
		p.logger.Debug("activity switch dropped",
			logging.String("from", next.from),
			logging.String("to", next.to),
		)
	}
}

func (p *Plugin) run() {
	defer p.wg.Done()
	for next := range p.switches {
		if next.from != "" {
			p.runAll(next.from, DeactivatedDir)
		}
		p.runAll(next.to, ActivatedDir)
	}
}

func (p *Plugin) runAll(activity, transition string) {
	dir := p.ScriptDir(activity, transition)
	executables, err := executablesIn(dir)
	if err != nil {
		logging.WarnWithContext(p.logger, "activity scripts unreadable", "runapplication_scan_failed",
			logging.String("dir", dir),
			logging.Error(err),
		)
		return
	}
	for _, path := range executables {
		if err := p.launch(path); err != nil {
			logging.WarnWithContext(p.logger, "activity script not started", "runapplication_start_failed",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the file is executable"),
			)
			continue
		}
		p.logger.Debug("activity script started",
			logging.String("path", path),
			logging.String("activity", activity),
			logging.String("transition", transition),
		)
	}
}

// executablesIn lists regular executable files in dir, sorted by name. A
// missing directory is not an error.
func executablesIn(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil || !info.Mode().IsRegular() || info.Mode().Perm()&0o111 == 0 {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

func startDetached(path string) error {
	cmd := exec.Command(path)
	cmd.Dir = filepath.Dir(path)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

// Close stops watching and waits for scripts already queued to be started.
func (p *Plugin) Close() error {
	if p.unsub != nil {
		p.unsub()
		p.unsub = nil
	}
	p.mu.Lock()
	if p.closed || p.switches == nil {
		p.closed = true
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.switches)
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}
