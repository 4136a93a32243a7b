package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/require"

	"kactivitymanagerd/internal/config"
	"kactivitymanagerd/internal/daemon"
	"kactivitymanagerd/internal/daemonrun"
	"kactivitymanagerd/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	data, err := toml.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(configPath, data, 0o644))
	return &cliTestEnv{cfg: cfg, configPath: configPath}
}

// inProcessSpawn runs start-daemon in a goroutine instead of a new process.
func inProcessSpawn(t *testing.T) spawnFunc {
	return func(cfg *config.Config) error {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = daemonrun.Run(ctx, cfg, daemonrun.Options{})
		}()
		t.Cleanup(func() {
			cancel()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
			}
		})
		return nil
	}
}

func runCLI(t *testing.T, args []string, spawn spawnFunc) (string, string, int) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr, spawn)
	return stdout.String(), stderr.String(), code
}

func TestUnrecognizedCommandExitsOne(t *testing.T) {
	env := setupCLITestEnv(t)
	_, stderr, code := runCLI(t, []string{"--config", env.configPath, "restart"}, nil)
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "Unrecognized command: restart")
}

func TestUsageExitsZero(t *testing.T) {
	env := setupCLITestEnv(t)
	cases := [][]string{
		{"--help"},
		{"--config", env.configPath, "stop", "now"},
		{"--config", env.configPath, "start", "stop"},
	}
	for _, args := range cases {
		stdout, _, code := runCLI(t, args, nil)
		require.Equal(t, 0, code, "%v", args)
		require.Contains(t, stdout, "Usage:")
	}
}

func TestStopAndStatusWithoutDaemon(t *testing.T) {
	env := setupCLITestEnv(t)

	stdout, _, code := runCLI(t, []string{"--config", env.configPath, "stop"}, nil)
	require.Equal(t, 0, code, "stop")
	require.Contains(t, stdout, "Service not running")

	stdout, _, code = runCLI(t, []string{"--config", env.configPath, "status"}, nil)
	require.Equal(t, 0, code, "status")
	require.Contains(t, stdout, "Service not running")
}

func TestStartStatusStop(t *testing.T) {
	env := setupCLITestEnv(t)
	spawn := inProcessSpawn(t)

	stdout, stderr, code := runCLI(t, []string{"--config", env.configPath}, spawn)
	require.Equal(t, 0, code, "start: stderr=%s", stderr)
	require.Contains(t, stdout, "Service started (version "+daemon.Version+")")

	stdout, _, code = runCLI(t, []string{"--config", env.configPath, "start"}, spawn)
	require.Equal(t, 0, code, "second start")
	require.Contains(t, stdout, "Already running")

	stdout, _, code = runCLI(t, []string{"--config", env.configPath, "status"}, nil)
	require.Equal(t, 0, code, "status")
	require.Contains(t, stdout, "Service running")
	require.Contains(t, stdout, daemon.Version)

	stdout, stderr, code = runCLI(t, []string{"--config", env.configPath, "stop"}, nil)
	require.Equal(t, 0, code, "stop: stderr=%s", stderr)
	require.Contains(t, stdout, "Service stopped")
}
