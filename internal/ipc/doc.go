// Package ipc exposes the daemon's remote control surface over JSON-RPC on a
// Unix domain socket and ships the matching client used by the CLI.
//
// The server registers a single ActivityManager service with Quit and
// ServiceVersion. WaitForRegistration and WaitForRemoval let clients follow
// the endpoint appearing and disappearing without busy loops.
package ipc
