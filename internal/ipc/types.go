package ipc

import "errors"

// ServiceName is the RPC service name registered by the server.
const ServiceName = "ActivityManager"

// ErrShuttingDown is returned by ServiceVersion once quit has begun.
var ErrShuttingDown = errors.New("service is shutting down")

// QuitRequest asks the daemon to shut down.
type QuitRequest struct{}

// QuitResponse acknowledges a quit request.
type QuitResponse struct {
	Accepted bool `json:"accepted"`
}

// ServiceVersionRequest queries the daemon version.
type ServiceVersionRequest struct{}

// ServiceVersionResponse carries the daemon's semantic version.
type ServiceVersionResponse struct {
	Version string `json:"version"`
}
