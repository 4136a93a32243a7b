package endpoint_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"kactivitymanagerd/internal/config"
	"kactivitymanagerd/internal/endpoint"
)

func TestPathsShareNamespace(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.RuntimeDir = "/run/user/1000/kactivitymanagerd"

	ep := endpoint.FromConfig(&cfg)
	require.Equal(t, "org.kde.ActivityManager", ep.String())
	require.Equal(t, filepath.Join(cfg.Paths.RuntimeDir, "org.kde.ActivityManager.lock"), ep.LockPath())
	require.Equal(t, filepath.Join(cfg.Paths.RuntimeDir, "org.kde.ActivityManager.sock"), ep.SocketPath())
	require.Equal(t, cfg.Paths.RuntimeDir, filepath.Dir(ep.PIDPath()))
}
