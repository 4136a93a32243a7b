package daemon_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kactivitymanagerd/internal/daemon"
	"kactivitymanagerd/internal/ipc"
	"kactivitymanagerd/internal/logging"
	"kactivitymanagerd/internal/modules"
	"kactivitymanagerd/internal/plugins"
	"kactivitymanagerd/internal/testsupport"
)

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) snapshot() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.entries)
}

type recordingModule struct {
	name string
	log  *journal
}

func (m *recordingModule) Stop(context.Context) error {
	m.log.add("module:" + m.name)
	return nil
}

func recordingFactory(name string, log *journal) modules.Factory {
	return modules.Factory{Name: name, New: func(modules.Env) (any, error) {
		return &recordingModule{name: name, log: log}, nil
	}}
}

type recordingPlugin struct {
	id  string
	log *journal
}

func (p *recordingPlugin) Init(plugins.Env) error { return nil }

func (p *recordingPlugin) Close() error {
	p.log.add("plugin:" + p.id)
	return nil
}

func recordingBuiltin(id string, log *journal) plugins.Builtin {
	return plugins.Builtin{ID: id, New: func() plugins.Plugin { return &recordingPlugin{id: id, log: log} }}
}

func runDaemon(t *testing.T, d *daemon.Daemon) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	})
	return cancel, done
}

func waitForClient(t *testing.T, socket string) *ipc.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := ipc.WaitForRegistration(ctx, socket)
	require.NoError(t, err, "daemon did not register")
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		require.FailNow(t, "daemon did not exit")
		return nil
	}
}

func TestQuitTearsDownPluginsBeforeModules(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithPlugins(map[string]bool{
		"kactivitymanagerd_plugin_a": true,
		"kactivitymanagerd_plugin_b": true,
	}))
	log := &journal{}
	d, err := daemon.New(cfg, logging.NewNop(), daemon.Options{
		Version: "9.9.9",
		Modules: []modules.Factory{recordingFactory("first", log), recordingFactory("second", log)},
		Builtins: []plugins.Builtin{
			recordingBuiltin("kactivitymanagerd_plugin_a", log),
			recordingBuiltin("kactivitymanagerd_plugin_b", log),
		},
	})
	require.NoError(t, err)
	_, done := runDaemon(t, d)

	client := waitForClient(t, d.Endpoint().SocketPath())
	version, err := client.ServiceVersion(context.Background())
	require.NoError(t, err)
	require.Equal(t, "9.9.9", version)
	require.Equal(t, []string{"kactivitymanagerd_plugin_a", "kactivitymanagerd_plugin_b"}, d.PluginIDs())

	require.NoError(t, client.Quit(context.Background()))
	require.NoError(t, waitDone(t, done))

	require.Equal(t, []string{
		"plugin:kactivitymanagerd_plugin_b",
		"plugin:kactivitymanagerd_plugin_a",
		"module:second",
		"module:first",
	}, log.snapshot())
	require.NoFileExists(t, d.Endpoint().SocketPath())
	require.NoFileExists(t, d.Endpoint().PIDPath())
}

func TestSecondInstanceReportsAlreadyRunning(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first, err := daemon.New(cfg, logging.NewNop(), daemon.Options{})
	require.NoError(t, err)
	runDaemon(t, first)
	waitForClient(t, first.Endpoint().SocketPath())

	var claimed int
	second, err := daemon.New(cfg, logging.NewNop(), daemon.Options{Claimed: func() { claimed++ }})
	require.NoError(t, err)
	require.ErrorIs(t, second.Run(context.Background()), daemon.ErrAlreadyRunning)
	require.Zero(t, claimed, "losing instance must not run its claimed hook")
	require.True(t, first.Running(), "first daemon should keep running")
}

func TestClaimedHookRunsBeforeModules(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	log := &journal{}
	d, err := daemon.New(cfg, logging.NewNop(), daemon.Options{
		Modules: []modules.Factory{{Name: "ordered", New: func(modules.Env) (any, error) {
			log.add("module:new")
			return &recordingModule{name: "ordered", log: log}, nil
		}}},
		Claimed: func() { log.add("claimed") },
	})
	require.NoError(t, err)
	cancel, done := runDaemon(t, d)
	waitForClient(t, d.Endpoint().SocketPath())
	cancel()
	require.NoError(t, waitDone(t, done))

	require.Equal(t, []string{"claimed", "module:new", "module:ordered"}, log.snapshot())
}

func TestCancellationShutsDown(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, err := daemon.New(cfg, logging.NewNop(), daemon.Options{})
	require.NoError(t, err)
	cancel, done := runDaemon(t, d)
	waitForClient(t, d.Endpoint().SocketPath())

	cancel()
	require.NoError(t, waitDone(t, done))
	require.False(t, d.Running(), "daemon still reports running")
}

func TestModuleFailureAbortsStartup(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	boom := errors.New("boom")
	d, err := daemon.New(cfg, logging.NewNop(), daemon.Options{
		Modules: []modules.Factory{{Name: "broken", New: func(modules.Env) (any, error) { return nil, boom }}},
	})
	require.NoError(t, err)
	require.ErrorIs(t, d.Run(context.Background()), boom)
	require.NoFileExists(t, d.Endpoint().SocketPath(), "socket should never be created")
}
