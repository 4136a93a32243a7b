package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeService()
	c.normalizeLogging()
	c.normalizePersistence()
	c.normalizePlugins()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.RuntimeDir, err = expandPath(c.Paths.RuntimeDir); err != nil {
		return fmt.Errorf("paths.runtime_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.PluginDir) == "" {
		c.Paths.PluginDir = defaultPluginDir
	}
	if c.Paths.PluginDir, err = expandPath(c.Paths.PluginDir); err != nil {
		return fmt.Errorf("paths.plugin_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeService() {
	c.Service.Name = strings.TrimSpace(c.Service.Name)
	if c.Service.Name == "" {
		c.Service.Name = defaultServiceName
	}
	c.Service.PluginPattern = strings.TrimSpace(c.Service.PluginPattern)
	if c.Service.PluginPattern == "" {
		c.Service.PluginPattern = defaultPluginPattern
	}
	if c.Service.StartTimeout <= 0 {
		c.Service.StartTimeout = defaultStartTimeout
	}
	if c.Service.StopTimeout <= 0 {
		c.Service.StopTimeout = defaultStopTimeout
	}
	if c.Service.ModuleStopTimeout <= 0 {
		c.Service.ModuleStopTimeout = defaultModuleStopTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func (c *Config) normalizePersistence() {
	c.Persistence.PruneSchedule = strings.TrimSpace(c.Persistence.PruneSchedule)
	if c.Persistence.RetentionDays < 0 {
		c.Persistence.RetentionDays = 0
	}
}

// normalizePlugins trims identifiers. Keys of the form "<identifier>Enabled"
// are folded onto the plain identifier unless the plain key is also present.
func (c *Config) normalizePlugins() {
	if c.Plugins == nil {
		c.Plugins = map[string]bool{}
		return
	}
	plain := make(map[string]bool, len(c.Plugins))
	suffixed := make(map[string]bool)
	for key, enabled := range c.Plugins {
		trimmed := strings.TrimSpace(key)
		if trimmed == "" {
			continue
		}
		if id, ok := strings.CutSuffix(trimmed, "Enabled"); ok && id != "" {
			suffixed[id] = enabled
			continue
		}
		plain[trimmed] = enabled
	}
	for id, enabled := range suffixed {
		if _, exists := plain[id]; !exists {
			plain[id] = enabled
		}
	}
	c.Plugins = plain
}
