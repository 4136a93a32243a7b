// Package main hosts the kactivitymanagerd entrypoint and command graph.
//
// Without arguments the binary behaves like `start`: it makes sure a daemon
// is registered, spawning a detached `start-daemon` re-invocation when none
// is. `stop` and `status` talk to the running daemon over its control socket.
// Only `start-daemon` runs the daemon in-process.
package main
