package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	defaultConfigPath             = "~/.config/kactivitymanagerd/config.toml"
	defaultServiceName            = "org.kde.ActivityManager"
	defaultDataDir                = "~/.local/share/kactivitymanagerd"
	defaultLogDir                 = "~/.local/share/kactivitymanagerd/logs"
	defaultPluginDir              = "/usr/lib/kactivitymanagerd/plugins"
	defaultPluginPattern          = "kactivitymanagerd_plugin_*.so"
	defaultStartTimeout           = 10
	defaultStopTimeout            = 5
	defaultModuleStopTimeout      = 5
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultLogRetentionDays       = 30
	defaultPersistencePrune       = "@daily"
	defaultPersistenceRetention   = 180
	defaultRuntimeDirName         = "kactivitymanagerd"
	defaultRuntimeDirFallbackBase = "kactivitymanagerd-"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:   defaultDataDir,
			LogDir:    defaultLogDir,
			PluginDir: defaultPluginDir,
		},
		Service: Service{
			Name:              defaultServiceName,
			StartTimeout:      defaultStartTimeout,
			StopTimeout:       defaultStopTimeout,
			ModuleStopTimeout: defaultModuleStopTimeout,
			PluginPattern:     defaultPluginPattern,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Persistence: Persistence{
			PruneSchedule: defaultPersistencePrune,
			RetentionDays: defaultPersistenceRetention,
		},
		Plugins: map[string]bool{},
	}
}

// defaultRuntimeDir prefers $XDG_RUNTIME_DIR and falls back to a per-user
// directory under the system temp dir.
func defaultRuntimeDir(xdgRuntimeDir string) string {
	if xdgRuntimeDir != "" {
		return filepath.Join(xdgRuntimeDir, defaultRuntimeDirName)
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("%s%d", defaultRuntimeDirFallbackBase, os.Getuid()))
}
