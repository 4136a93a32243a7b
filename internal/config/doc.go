// Package config loads, normalizes, and validates activity manager settings.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment overrides such as
// KAMD_RUNTIME_DIR and XDG_RUNTIME_DIR. The Config type centralizes the
// runtime, data, log and plugin directories together with the service name,
// lifecycle timeouts and plugin enablement table.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
