package singleton_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/require"

	"kactivitymanagerd/internal/endpoint"
	"kactivitymanagerd/internal/singleton"
)

func newEndpoint(t *testing.T) endpoint.Endpoint {
	t.Helper()
	return endpoint.Endpoint{Name: "org.kde.ActivityManager", RuntimeDir: filepath.Join(t.TempDir(), "run")}
}

func TestSecondClaimFails(t *testing.T) {
	ep := newEndpoint(t)

	first, err := singleton.Acquire(ep)
	require.NoError(t, err)
	t.Cleanup(func() { _ = first.Release() })

	_, err = singleton.Acquire(ep)
	require.ErrorIs(t, err, singleton.ErrAlreadyHeld)
}

func TestReleaseAllowsReclaim(t *testing.T) {
	ep := newEndpoint(t)

	first, err := singleton.Acquire(ep)
	require.NoError(t, err)
	require.NoError(t, first.Release())
	require.NoError(t, first.Release(), "second Release should be a no-op")

	again, err := singleton.Acquire(ep)
	require.NoError(t, err)
	_ = again.Release()
}

func TestProbeReflectsHolder(t *testing.T) {
	ep := newEndpoint(t)

	held, err := singleton.Probe(ep)
	require.NoError(t, err)
	require.False(t, held, "endpoint should be free before a claim")

	claim, err := singleton.Acquire(ep)
	require.NoError(t, err)
	held, err = singleton.Probe(ep)
	require.NoError(t, err)
	require.True(t, held, "endpoint should be held while claimed")
	_ = claim.Release()

	held, err = singleton.Probe(ep)
	require.NoError(t, err)
	require.False(t, held, "endpoint should be free after release")
}

func TestSharedLockDuringAcquireDoesNotDefeatClaim(t *testing.T) {
	ep := newEndpoint(t)
	require.NoError(t, os.MkdirAll(ep.RuntimeDir, 0o700))

	// The shared lock a concurrent holder check takes, overlapping Acquire.
	shared := flock.New(ep.LockPath())
	ok, err := shared.TryRLock()
	require.NoError(t, err)
	require.True(t, ok)
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = shared.Unlock()
	}()

	claim, err := singleton.Acquire(ep)
	require.NoError(t, err, "Acquire while a shared lock was held")
	defer claim.Release()

	held, err := singleton.Probe(ep)
	require.NoError(t, err)
	require.True(t, held)
}

func TestAcquireRejectsEmptyRuntimeDir(t *testing.T) {
	_, err := singleton.Acquire(endpoint.Endpoint{Name: "x"})
	require.Error(t, err)
}
