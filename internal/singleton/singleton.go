// Package singleton guards the well-known endpoint name so that at most one
// daemon holds it system-wide. Exclusivity is a kernel advisory lock, which
// the kernel drops when the holder exits, so a crashed daemon never leaves a
// stale registration behind.
package singleton

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"kactivitymanagerd/internal/endpoint"
)

// ErrAlreadyHeld reports that another process owns the endpoint.
var ErrAlreadyHeld = errors.New("endpoint already claimed")

// Probe holds a shared lock for an instant; Acquire keeps retrying for
// claimWindow so a concurrent Probe never reads as a competing daemon.
const (
	claimWindow     = 250 * time.Millisecond
	claimRetryDelay = 10 * time.Millisecond
)

// Claim is a held registration of an endpoint name.
type Claim struct {
	endpoint endpoint.Endpoint
	lock     *flock.Flock
	once     sync.Once
}

// Acquire claims ep for the calling process.
func Acquire(ep endpoint.Endpoint) (*Claim, error) {
	if err := prepareRuntimeDir(ep.RuntimeDir); err != nil {
		return nil, err
	}

	lock := flock.New(ep.LockPath())
	ctx, cancel := context.WithTimeout(context.Background(), claimWindow)
	defer cancel()
	ok, err := lock.TryLockContext(ctx, claimRetryDelay)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("acquire lock %s: %w", ep.LockPath(), err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", ep.Name, ErrAlreadyHeld)
	}
	return &Claim{endpoint: ep, lock: lock}, nil
}

// Endpoint returns the claimed endpoint.
func (c *Claim) Endpoint() endpoint.Endpoint {
	return c.endpoint
}

// Release drops the claim. It is safe to call more than once.
func (c *Claim) Release() error {
	if c == nil {
		return nil
	}
	var err error
	c.once.Do(func() {
		if unlockErr := c.lock.Unlock(); unlockErr != nil {
			err = fmt.Errorf("release lock %s: %w", c.endpoint.LockPath(), unlockErr)
		}
	})
	return err
}

// Probe reports whether some process currently holds ep. It never claims.
func Probe(ep endpoint.Endpoint) (bool, error) {
	if _, err := os.Stat(ep.LockPath()); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat lock: %w", err)
	}
	lock := flock.New(ep.LockPath())
	ok, err := lock.TryRLock()
	if err != nil {
		return false, fmt.Errorf("probe lock %s: %w", ep.LockPath(), err)
	}
	if ok {
		_ = lock.Unlock()
		return false, nil
	}
	return true, nil
}

func prepareRuntimeDir(dir string) error {
	if dir == "" {
		return errors.New("runtime directory is not configured")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create runtime directory %q: %w", dir, err)
	}
	if err := unix.Access(dir, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return fmt.Errorf("runtime directory %q not accessible: %w", dir, err)
	}
	return nil
}
