// Package plugins discovers, filters, loads and initializes the daemon's
// plugins.
//
// A plugin is either compiled into the binary (a Builtin) or a Go plugin
// artifact named kactivitymanagerd_plugin_<name>.so in the plugin directory.
// Artifacts export two symbols:
//
//	var PluginAPIVersion = plugins.APIVersion
//	func NewPlugin() plugins.Plugin
//
// Every daemon start lists the directory afresh, applies the enablement
// policy and loads the survivors in catalog order. A candidate that fails at
// any stage is logged and skipped; it never stops the daemon.
package plugins

import (
	"log/slog"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"kactivitymanagerd/internal/modules"
)

// APIVersion is the plugin interface revision artifacts must be built against.
const APIVersion = 1

// IDPrefix is shared by every plugin identifier.
const IDPrefix = "kactivitymanagerd_plugin_"

// Plugin is the capability interface every plugin implements.
type Plugin interface {
	// Init is called once after loading. The plugin may keep references to
	// modules obtained from env.Modules but never owns them.
	Init(env Env) error
	// Close releases everything the plugin acquired. Modules are still
	// running when Close is called.
	Close() error
}

// Env is what a plugin receives at initialization.
type Env struct {
	Modules *modules.Registry
	Logger  *slog.Logger
	DataDir string
}

// Builtin is a plugin compiled into the daemon.
type Builtin struct {
	ID  string
	New func() Plugin
}

// DisplayName turns an identifier into a short human readable label.
func DisplayName(id string) string {
	short := strings.TrimPrefix(id, IDPrefix)
	short = strings.ReplaceAll(short, "_", " ")
	if short == "" {
		return id
	}
	return cases.Title(language.Und).String(short)
}
