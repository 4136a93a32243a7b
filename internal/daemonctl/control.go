// Package daemonctl implements the client side of start, stop and status:
// probing the endpoint, spawning a detached daemon and talking to it over
// IPC. It never initializes a daemon in the calling process.
package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/rpc"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"kactivitymanagerd/internal/config"
	"kactivitymanagerd/internal/endpoint"
	"kactivitymanagerd/internal/ipc"
	"kactivitymanagerd/internal/singleton"
)

// StartDaemonCommand is the subcommand a spawned daemon process runs.
const StartDaemonCommand = "start-daemon"

// ErrDaemonNotRunning indicates the endpoint has no daemon behind it.
var ErrDaemonNotRunning = errors.New("daemon not running")

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	ConfigPath string
}

// LaunchArgs returns the arguments of a start-daemon re-invocation.
func LaunchArgs(opts LaunchOptions) []string {
	args := []string{StartDaemonCommand}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	return args
}

// Launch starts a detached daemon process in its own session with no stdio.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}

	proc := exec.Command(executablePath, LaunchArgs(opts)...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// Remote is the subset of the IPC client used here.
type Remote interface {
	Quit(ctx context.Context) error
	ServiceVersion(ctx context.Context) (string, error)
	Close() error
}

// Controller drives one endpoint.
type Controller struct {
	Endpoint     endpoint.Endpoint
	StartTimeout time.Duration
	StopTimeout  time.Duration
	// CallTimeout bounds a single request that has no other deadline.
	CallTimeout time.Duration

	// Spawn launches the daemon. Defaults to Launch with the current
	// executable.
	Spawn func() error
	// Dial connects to the endpoint. Defaults to ipc.Dial.
	Dial func(socketPath string) (Remote, error)
}

// NewController returns a controller for cfg that spawns executablePath with
// opts.
func NewController(cfg *config.Config, executablePath string, opts LaunchOptions) *Controller {
	return &Controller{
		Endpoint:     endpoint.FromConfig(cfg),
		StartTimeout: cfg.StartTimeout(),
		StopTimeout:  cfg.StopTimeout(),
		Spawn:        func() error { return Launch(executablePath, opts) },
	}
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State    StartState
	Launched bool
	Version  string
}

// StopResult captures daemon stop outcome.
type StopResult struct {
	WasRunning       bool
	StopAcknowledged bool
}

// StatusResult describes the endpoint as seen by a client.
type StatusResult struct {
	Running  bool
	Version  string
	PID      int
	Endpoint string
	Socket   string
}

// Start ensures a daemon is registered. An existing daemon is left alone;
// otherwise one is spawned and Start waits for it to register, bounded by
// StartTimeout.
func (c *Controller) Start(ctx context.Context) (StartResult, error) {
	if remote, err := c.probe(); err == nil {
		defer remote.Close()
		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout())
		defer cancel()
		version, _ := remote.ServiceVersion(callCtx)
		return StartResult{State: StartStateAlreadyRunning, Version: version}, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.startTimeout())
	defer cancel()
	client, launched, err := c.awaitRegistration(waitCtx)
	if err != nil {
		return StartResult{}, fmt.Errorf("daemon failed to start: %w", err)
	}
	defer client.Close()

	version, err := client.ServiceVersion(waitCtx)
	if err != nil {
		return StartResult{}, fmt.Errorf("query daemon version: %w", err)
	}
	return StartResult{State: StartStateStarted, Launched: launched, Version: version}, nil
}

// awaitRegistration spawns a daemon unless one holds the claim, then waits
// for the socket. A claim holder without a socket is either still starting or
// on its way out; if its claim goes away before the socket appears, a daemon
// is spawned after all.
func (c *Controller) awaitRegistration(ctx context.Context) (*ipc.Client, bool, error) {
	socket := c.Endpoint.SocketPath()
	for {
		if held, _ := singleton.Probe(c.Endpoint); !held {
			if err := c.spawn(); err != nil {
				return nil, false, err
			}
			client, err := ipc.WaitForRegistration(ctx, socket)
			return client, true, err
		}
		attemptCtx, cancel := context.WithTimeout(ctx, ipc.PollInterval)
		client, err := ipc.WaitForRegistration(attemptCtx, socket)
		cancel()
		if err == nil {
			return client, false, nil
		}
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
	}
}

// Stop asks a running daemon to quit and waits, bounded by StopTimeout, for
// its endpoint to disappear. With no daemon, or one that never answers, it
// returns ErrDaemonNotRunning.
func (c *Controller) Stop(ctx context.Context) (StopResult, error) {
	remote, err := c.probe()
	if err != nil {
		return StopResult{}, err
	}
	waitCtx, cancel := context.WithTimeout(ctx, c.stopTimeout())
	defer cancel()

	quitErr := remote.Quit(waitCtx)
	_ = remote.Close()
	if errors.Is(quitErr, context.DeadlineExceeded) {
		return StopResult{}, fmt.Errorf("%w: quit request unanswered", ErrDaemonNotRunning)
	}
	if quitErr != nil && !connectionDropped(quitErr) {
		return StopResult{WasRunning: true}, fmt.Errorf("request quit: %w", quitErr)
	}
	result := StopResult{WasRunning: true, StopAcknowledged: quitErr == nil}

	if err := ipc.WaitForRemoval(waitCtx, c.Endpoint.SocketPath()); err != nil {
		return result, fmt.Errorf("daemon did not stop: %w", err)
	}
	return result, nil
}

// Status reports whether a daemon answers on the endpoint, waiting at most
// CallTimeout for the answer.
func (c *Controller) Status(ctx context.Context) (StatusResult, error) {
	result := StatusResult{Endpoint: c.Endpoint.String(), Socket: c.Endpoint.SocketPath()}
	remote, err := c.probe()
	if err != nil {
		return result, nil
	}
	defer remote.Close()

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout())
	defer cancel()
	version, err := remote.ServiceVersion(callCtx)
	if err != nil {
		if errors.Is(err, ipc.ErrShuttingDown) || errors.Is(err, context.DeadlineExceeded) {
			return result, nil
		}
		return result, fmt.Errorf("query daemon version: %w", err)
	}
	result.Running = true
	result.Version = version
	result.PID = readPID(c.Endpoint.PIDPath())
	return result, nil
}

// probe dials the endpoint. Any dial failure means no daemon is reachable.
func (c *Controller) probe() (Remote, error) {
	dial := c.Dial
	if dial == nil {
		dial = func(path string) (Remote, error) { return ipc.Dial(path) }
	}
	remote, err := dial(c.Endpoint.SocketPath())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDaemonNotRunning, err)
	}
	return remote, nil
}

func (c *Controller) spawn() error {
	if c.Spawn != nil {
		return c.Spawn()
	}
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	return Launch(executable, LaunchOptions{})
}

func (c *Controller) startTimeout() time.Duration {
	if c.StartTimeout > 0 {
		return c.StartTimeout
	}
	return 10 * time.Second
}

func (c *Controller) callTimeout() time.Duration {
	if c.CallTimeout > 0 {
		return c.CallTimeout
	}
	return 2 * time.Second
}

func (c *Controller) stopTimeout() time.Duration {
	if c.StopTimeout > 0 {
		return c.StopTimeout
	}
	return 5 * time.Second
}

// connectionDropped reports errors caused by the daemon closing the
// connection while acting on a quit.
func connectionDropped(err error) bool {
	return errors.Is(err, rpc.ErrShutdown) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

func readPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}
