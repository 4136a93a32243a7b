package daemonctl_test

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kactivitymanagerd/internal/config"
	"kactivitymanagerd/internal/daemon"
	"kactivitymanagerd/internal/daemonctl"
	"kactivitymanagerd/internal/ipc"
	"kactivitymanagerd/internal/logging"
	"kactivitymanagerd/internal/singleton"
	"kactivitymanagerd/internal/testsupport"
)

type countingRemote struct {
	daemonctl.Remote
	quits *atomic.Int32
}

func (r countingRemote) Quit(ctx context.Context) error {
	r.quits.Add(1)
	return r.Remote.Quit(ctx)
}

func countingDial(quits *atomic.Int32) func(string) (daemonctl.Remote, error) {
	return func(path string) (daemonctl.Remote, error) {
		client, err := ipc.Dial(path)
		if err != nil {
			return nil, err
		}
		return countingRemote{Remote: client, quits: quits}, nil
	}
}

// inProcessDaemon starts a daemon for cfg in a goroutine and returns a
// channel closed when it exits.
func inProcessDaemon(t *testing.T, cfg *config.Config, version string) <-chan struct{} {
	t.Helper()
	d, err := daemon.New(cfg, logging.NewNop(), daemon.Options{Version: version})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return done
}

// silentListener accepts connections on socket and never answers a request.
func silentListener(t *testing.T, socket string) {
	t.Helper()
	ln, err := net.Listen("unix", socket)
	require.NoError(t, err)
	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, conn := range conns {
			_ = conn.Close()
		}
	})
}

func TestStopWithoutDaemonNeverCallsQuit(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	var quits atomic.Int32
	ctl := daemonctl.NewController(cfg, "", daemonctl.LaunchOptions{})
	ctl.Dial = countingDial(&quits)

	_, err := ctl.Stop(context.Background())
	require.ErrorIs(t, err, daemonctl.ErrDaemonNotRunning)

	// A stale socket file refuses connections and is treated the same.
	require.NoError(t, os.WriteFile(ctl.Endpoint.SocketPath(), nil, 0o600))
	_, err = ctl.Stop(context.Background())
	require.ErrorIs(t, err, daemonctl.ErrDaemonNotRunning)
	require.Zero(t, quits.Load(), "no Quit may be sent without a daemon")
}

func TestStartWithRegisteredDaemonDoesNotSpawn(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	inProcessDaemon(t, cfg, "1.2.3")

	ctl := daemonctl.NewController(cfg, "", daemonctl.LaunchOptions{})
	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := ipc.WaitForRegistration(waitCtx, ctl.Endpoint.SocketPath())
	require.NoError(t, err, "daemon did not register")
	_ = client.Close()

	var spawned atomic.Int32
	ctl.Spawn = func() error {
		spawned.Add(1)
		return nil
	}
	result, err := ctl.Start(context.Background())
	require.NoError(t, err)
	require.Equal(t, daemonctl.StartStateAlreadyRunning, result.State)
	require.Equal(t, "1.2.3", result.Version)
	require.False(t, result.Launched)
	require.Zero(t, spawned.Load())
}

func TestStartThenStatusReportSameVersion(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctl := daemonctl.NewController(cfg, "", daemonctl.LaunchOptions{})

	var done <-chan struct{}
	ctl.Spawn = func() error {
		done = inProcessDaemon(t, cfg, "6.3.1")
		return nil
	}

	started, err := ctl.Start(context.Background())
	require.NoError(t, err)
	require.Equal(t, daemonctl.StartStateStarted, started.State)
	require.True(t, started.Launched)

	status, err := ctl.Status(context.Background())
	require.NoError(t, err)
	require.True(t, status.Running)
	require.Equal(t, "6.3.1", status.Version)
	require.Equal(t, started.Version, status.Version)
	require.Equal(t, os.Getpid(), status.PID)

	stopped, err := ctl.Stop(context.Background())
	require.NoError(t, err)
	require.True(t, stopped.WasRunning)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "daemon did not exit after stop")
	}

	status, err = ctl.Status(context.Background())
	require.NoError(t, err)
	require.False(t, status.Running)
}

func TestStartTimesOutWhenNothingRegisters(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctl := daemonctl.NewController(cfg, "", daemonctl.LaunchOptions{})
	ctl.StartTimeout = 200 * time.Millisecond
	ctl.Spawn = func() error { return nil }

	_, err := ctl.Start(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUnansweredDaemonDoesNotBlockClients(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctl := daemonctl.NewController(cfg, "", daemonctl.LaunchOptions{})
	ctl.StartTimeout = 300 * time.Millisecond
	ctl.StopTimeout = 300 * time.Millisecond
	ctl.CallTimeout = 300 * time.Millisecond
	ctl.Spawn = func() error { return nil }
	silentListener(t, ctl.Endpoint.SocketPath())

	type outcome struct {
		op  string
		err error
		ok  bool
	}
	finished := make(chan outcome, 3)
	go func() {
		result, err := ctl.Start(context.Background())
		finished <- outcome{"start", err, result.State == daemonctl.StartStateAlreadyRunning}
	}()
	go func() {
		_, err := ctl.Stop(context.Background())
		finished <- outcome{"stop", nil, errors.Is(err, daemonctl.ErrDaemonNotRunning)}
	}()
	go func() {
		status, err := ctl.Status(context.Background())
		finished <- outcome{"status", err, !status.Running}
	}()

	deadline := time.After(3 * time.Second)
	for range 3 {
		select {
		case got := <-finished:
			require.NoError(t, got.err, got.op)
			require.True(t, got.ok, "unexpected %s outcome", got.op)
		case <-deadline:
			require.FailNow(t, "client call blocked on a daemon that never answers")
		}
	}
}

func TestStartSpawnsOnceStaleClaimIsReleased(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctl := daemonctl.NewController(cfg, "", daemonctl.LaunchOptions{})

	claim, err := singleton.Acquire(ctl.Endpoint)
	require.NoError(t, err)
	go func() {
		time.Sleep(200 * time.Millisecond)
		_ = claim.Release()
	}()

	var spawned atomic.Int32
	ctl.Spawn = func() error {
		spawned.Add(1)
		inProcessDaemon(t, cfg, "6.3.2")
		return nil
	}
	result, err := ctl.Start(context.Background())
	require.NoError(t, err)
	require.True(t, result.Launched)
	require.Equal(t, "6.3.2", result.Version)
	require.EqualValues(t, 1, spawned.Load())
}

func TestAnyDialFailureMeansNotRunning(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctl := daemonctl.NewController(cfg, "", daemonctl.LaunchOptions{})
	ctl.Dial = func(string) (daemonctl.Remote, error) {
		return nil, &net.OpError{Op: "dial", Net: "unix", Err: os.NewSyscallError("connect", syscall.EACCES)}
	}

	_, err := ctl.Stop(context.Background())
	require.ErrorIs(t, err, daemonctl.ErrDaemonNotRunning)

	status, err := ctl.Status(context.Background())
	require.NoError(t, err)
	require.False(t, status.Running)
}

func TestLaunchArgs(t *testing.T) {
	require.Equal(t, []string{"start-daemon"}, daemonctl.LaunchArgs(daemonctl.LaunchOptions{}))
	require.Equal(t, []string{"start-daemon", "--config", "/tmp/kamd.toml"},
		daemonctl.LaunchArgs(daemonctl.LaunchOptions{ConfigPath: "/tmp/kamd.toml"}))
}
