package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"kactivitymanagerd/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The runtime directory lives under the system temp dir so socket paths stay
// short enough for sun_path.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	runtimeDir, err := os.MkdirTemp("", "kamd")
	if err != nil {
		t.Fatalf("create runtime dir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(runtimeDir) })

	cfgVal := config.Default()
	cfgVal.Paths.RuntimeDir = runtimeDir
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.PluginDir = filepath.Join(base, "plugins")
	cfgVal.Service.StartTimeout = 5
	cfgVal.Service.StopTimeout = 5
	cfgVal.Service.ModuleStopTimeout = 1
	cfgVal.Persistence.PruneSchedule = ""

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithPlugins sets the [plugins] overrides on the test config.
func WithPlugins(overrides map[string]bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Plugins = overrides
	}
}

// WithServiceName overrides the endpoint name.
func WithServiceName(name string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Service.Name = name
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
