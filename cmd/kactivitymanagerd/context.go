package main

import (
	"os"
	"strings"
	"sync"

	"kactivitymanagerd/internal/config"
	"kactivitymanagerd/internal/daemonctl"
)

type commandContext struct {
	configFlag *string
	spawn      spawnFunc

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(spawn spawnFunc) *commandContext {
	return &commandContext{
		configFlag: new(string),
		spawn:      spawn,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		path := strings.TrimSpace(*c.configFlag)
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		if exists {
			c.configPath = resolved
		}
	})
	return c.config, c.configErr
}

// controller builds the client-side controller. A spawned daemon receives
// the same configuration file this process loaded.
func (c *commandContext) controller() (*daemonctl.Controller, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	executable, err := os.Executable()
	if err != nil {
		executable = os.Args[0]
	}
	ctl := daemonctl.NewController(cfg, executable, daemonctl.LaunchOptions{ConfigPath: c.configPath})
	if c.spawn != nil {
		ctl.Spawn = func() error { return c.spawn(cfg) }
	}
	return ctl, nil
}
