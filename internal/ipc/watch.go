package ipc

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// PollInterval is the fallback re-probe period when filesystem events are
// unavailable or missed.
const PollInterval = 500 * time.Millisecond

// WaitForRegistration blocks until the endpoint at socketPath accepts a
// connection and returns the connected client.
func WaitForRegistration(ctx context.Context, socketPath string) (*Client, error) {
	var client *Client
	err := waitFor(ctx, socketPath, func() bool {
		c, err := Dial(socketPath)
		if err != nil {
			return false
		}
		client = c
		return true
	})
	return client, err
}

// WaitForRemoval blocks until the endpoint at socketPath no longer accepts
// connections.
func WaitForRemoval(ctx context.Context, socketPath string) error {
	return waitFor(ctx, socketPath, func() bool {
		if _, err := os.Stat(socketPath); errors.Is(err, fs.ErrNotExist) {
			return true
		}
		c, err := Dial(socketPath)
		if err != nil {
			return true
		}
		_ = c.Close()
		return false
	})
}

// waitFor evaluates probe on every change to the socket's directory and on
// each poll tick until it reports true or ctx ends.
func waitFor(ctx context.Context, socketPath string, probe func() bool) error {
	if probe() {
		return nil
	}

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if watcher, err := fsnotify.NewWatcher(); err == nil {
		defer watcher.Close()
		if watcher.Add(filepath.Dir(socketPath)) == nil {
			events, errs = watcher.Events, watcher.Errors
		}
	}

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(evt.Name) != filepath.Clean(socketPath) {
				continue
			}
		case _, ok := <-errs:
			if !ok {
				errs = nil
			}
			continue
		case <-ticker.C:
		}
		if probe() {
			return nil
		}
	}
}
