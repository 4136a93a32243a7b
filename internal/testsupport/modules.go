package testsupport

import (
	"context"
	"testing"
	"time"

	"kactivitymanagerd/internal/logging"
	"kactivitymanagerd/internal/modules"
)

// StartModules starts factories on a fresh host and shuts it down when the
// test ends.
func StartModules(t testing.TB, factories ...modules.Factory) *modules.Registry {
	t.Helper()

	host := modules.NewHost(logging.NewNop(), time.Second)
	registry, err := host.Start(context.Background(), factories)
	if err != nil {
		t.Fatalf("start modules: %v", err)
	}
	t.Cleanup(func() {
		_ = host.Shutdown()
	})
	return registry
}
