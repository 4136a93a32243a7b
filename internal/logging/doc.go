// Package logging assembles structured slog loggers and formatting helpers used
// across the activity manager daemon and its control CLI.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so module and plugin code can
// tag log lines with the hosting module, plugin identifier, and daemon run
// session. The package also provides a no-op logger for tests and wiring code
// that cannot fail.
package logging
