package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Paths contains directory configuration.
type Paths struct {
	RuntimeDir string `toml:"runtime_dir"`
	DataDir    string `toml:"data_dir"`
	LogDir     string `toml:"log_dir"`
	PluginDir  string `toml:"plugin_dir"`
}

// Service contains the well-known endpoint name and client/daemon timing.
type Service struct {
	Name              string `toml:"name"`
	StartTimeout      int    `toml:"start_timeout"`
	StopTimeout       int    `toml:"stop_timeout"`
	ModuleStopTimeout int    `toml:"module_stop_timeout"`
	PluginPattern     string `toml:"plugin_pattern"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Persistence configures the core persistence plugin.
type Persistence struct {
	PruneSchedule string `toml:"prune_schedule"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for the activity manager.
//
// Configuration sections:
//   - Paths: runtime (lock + socket), data, log and plugin directories
//   - Service: endpoint name and start/stop/join timeouts
//   - Logging: log format, level, and retention
//   - Persistence: resource event pruning for the sqlite plugin
//   - Plugins: per-plugin enablement keyed by plugin identifier
type Config struct {
	Paths       Paths           `toml:"paths"`
	Service     Service         `toml:"service"`
	Logging     Logging         `toml:"logging"`
	Persistence Persistence     `toml:"persistence"`
	Plugins     map[string]bool `toml:"plugins"`
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. Environment overrides are applied after the file.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	env, err := loadEnv()
	if err != nil {
		return nil, "", false, err
	}
	if strings.TrimSpace(path) == "" {
		path = env.ConfigPath
	}

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv(env)

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation. The
// runtime directory holds the lock and socket and is kept private to the user.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Paths.RuntimeDir, 0o700); err != nil {
		return fmt.Errorf("create directory %q: %w", c.Paths.RuntimeDir, err)
	}
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StartTimeout bounds how long `start` waits for the daemon to register.
func (c *Config) StartTimeout() time.Duration {
	return time.Duration(c.Service.StartTimeout) * time.Second
}

// StopTimeout bounds how long `stop` waits for the endpoint to disappear.
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.Service.StopTimeout) * time.Second
}

// ModuleStopTimeout bounds the join of each module worker during shutdown.
func (c *Config) ModuleStopTimeout() time.Duration {
	return time.Duration(c.Service.ModuleStopTimeout) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}
