package runapplication_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kactivitymanagerd/internal/activities"
	"kactivitymanagerd/internal/modules"
	"kactivitymanagerd/internal/plugins"
	"kactivitymanagerd/internal/plugins/runapplication"
	"kactivitymanagerd/internal/testsupport"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) launch(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	return nil
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func TestRunsActivatedAndDeactivatedScripts(t *testing.T) {
	registry := testsupport.StartModules(t, activities.Factory())
	manager, err := modules.Lookup[*activities.Manager](registry, activities.ModuleName)
	require.NoError(t, err)

	dataDir := t.TempDir()
	rec := &recorder{}
	p := runapplication.New(rec.launch)
	require.NoError(t, plugins.Init(p, plugins.Env{Modules: registry, DataDir: dataDir}))
	t.Cleanup(func() { _ = p.Close() })

	first := manager.Current()
	second, err := manager.Add(context.Background(), "Work")
	require.NoError(t, err)

	activated := testsupport.WriteScript(t, p.ScriptDir(second, runapplication.ActivatedDir), "10-open", 0o755)
	testsupport.WriteScript(t, p.ScriptDir(second, runapplication.ActivatedDir), "notes.txt", 0o644)
	deactivated := testsupport.WriteScript(t, p.ScriptDir(first, runapplication.DeactivatedDir), "close", 0o700)

	require.NoError(t, manager.SetCurrent(context.Background(), second))
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, time.Second, 10*time.Millisecond)
	require.Equal(t, []string{deactivated, activated}, rec.snapshot())
}

func TestSlowLauncherDoesNotHoldActivitySwitch(t *testing.T) {
	registry := testsupport.StartModules(t, activities.Factory())
	manager, err := modules.Lookup[*activities.Manager](registry, activities.ModuleName)
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan string, 4)
	p := runapplication.New(func(path string) error {
		started <- path
		<-release
		return nil
	})
	require.NoError(t, plugins.Init(p, plugins.Env{Modules: registry, DataDir: t.TempDir()}))
	t.Cleanup(func() { _ = p.Close() })

	id, err := manager.Add(context.Background(), "Slow")
	require.NoError(t, err)
	script := testsupport.WriteScript(t, p.ScriptDir(id, runapplication.ActivatedDir), "wait", 0o755)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, manager.SetCurrent(ctx, id))
	require.Equal(t, id, manager.Current())

	select {
	case path := <-started:
		require.Equal(t, script, path)
	case <-time.After(time.Second):
		require.FailNow(t, "script was not started")
	}
	close(release)
}

func TestMissingScriptDirectoryIsQuiet(t *testing.T) {
	registry := testsupport.StartModules(t, activities.Factory())
	manager, _ := modules.Lookup[*activities.Manager](registry, activities.ModuleName)

	rec := &recorder{}
	p := runapplication.New(rec.launch)
	require.NoError(t, plugins.Init(p, plugins.Env{Modules: registry, DataDir: t.TempDir()}))
	t.Cleanup(func() { _ = p.Close() })

	id, err := manager.Add(context.Background(), "Empty")
	require.NoError(t, err)
	require.NoError(t, manager.SetCurrent(context.Background(), id))
	require.Empty(t, rec.snapshot())
}

func TestInitRequiresDataDir(t *testing.T) {
	p := runapplication.New(nil)
	require.Error(t, plugins.Init(p, plugins.Env{Modules: nil}))
}

func TestBuiltinID(t *testing.T) {
	require.Equal(t, plugins.RunApplicationID, runapplication.Builtin().ID)
}
