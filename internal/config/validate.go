package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateService(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validatePersistence(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.RuntimeDir) == "" {
		return errors.New("paths.runtime_dir must be set (or export XDG_RUNTIME_DIR)")
	}
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	return nil
}

func (c *Config) validateService() error {
	name := c.Service.Name
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("service.name %q must not contain path separators", name)
	}
	if _, err := filepath.Match(c.Service.PluginPattern, ""); err != nil {
		return fmt.Errorf("service.plugin_pattern %q: %w", c.Service.PluginPattern, err)
	}
	return ensurePositiveMap(map[string]int{
		"service.start_timeout":       c.Service.StartTimeout,
		"service.stop_timeout":        c.Service.StopTimeout,
		"service.module_stop_timeout": c.Service.ModuleStopTimeout,
	})
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level)
	}
}

func (c *Config) validatePersistence() error {
	if c.Persistence.PruneSchedule == "" {
		return nil
	}
	if _, err := cron.ParseStandard(c.Persistence.PruneSchedule); err != nil {
		return fmt.Errorf("persistence.prune_schedule %q: %w", c.Persistence.PruneSchedule, err)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
