// Package endpoint maps the well-known service name onto the filesystem
// paths that back it: the lock that admits a single daemon and the socket
// that carries remote control calls.
package endpoint

import (
	"path/filepath"

	"kactivitymanagerd/internal/config"
)

// Endpoint names one claimable service inside a runtime directory.
type Endpoint struct {
	Name       string
	RuntimeDir string
}

// FromConfig returns the endpoint described by cfg.
func FromConfig(cfg *config.Config) Endpoint {
	return Endpoint{Name: cfg.Service.Name, RuntimeDir: cfg.Paths.RuntimeDir}
}

// LockPath is the file whose exclusive lock is the daemon registration.
func (e Endpoint) LockPath() string {
	return filepath.Join(e.RuntimeDir, e.Name+".lock")
}

// SocketPath is the Unix socket the daemon serves RPC on.
func (e Endpoint) SocketPath() string {
	return filepath.Join(e.RuntimeDir, e.Name+".sock")
}

// PIDPath records the pid of the registered daemon for diagnostics.
func (e Endpoint) PIDPath() string {
	return filepath.Join(e.RuntimeDir, e.Name+".pid")
}

func (e Endpoint) String() string {
	return e.Name
}
