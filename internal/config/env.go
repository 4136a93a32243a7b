package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// envOverrides lists the environment variables honoured on top of the file.
type envOverrides struct {
	ConfigPath    string `env:"KAMD_CONFIG"`
	RuntimeDir    string `env:"KAMD_RUNTIME_DIR"`
	PluginDir     string `env:"KAMD_PLUGIN_DIR"`
	LogLevel      string `env:"KAMD_LOG_LEVEL"`
	XDGRuntimeDir string `env:"XDG_RUNTIME_DIR"`
}

func loadEnv() (envOverrides, error) {
	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return envOverrides{}, fmt.Errorf("parse env: %w", err)
	}
	return overrides, nil
}

func (c *Config) applyEnv(overrides envOverrides) {
	if value := strings.TrimSpace(overrides.RuntimeDir); value != "" {
		c.Paths.RuntimeDir = value
	}
	if strings.TrimSpace(c.Paths.RuntimeDir) == "" {
		c.Paths.RuntimeDir = defaultRuntimeDir(strings.TrimSpace(overrides.XDGRuntimeDir))
	}
	if value := strings.TrimSpace(overrides.PluginDir); value != "" {
		c.Paths.PluginDir = value
	}
	if value := strings.TrimSpace(overrides.LogLevel); value != "" {
		c.Logging.Level = value
	}
}
