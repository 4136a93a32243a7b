// Package daemon coordinates one kactivitymanagerd process from claim to
// exit.
//
// Run claims the well-known endpoint, starts the modules in order, loads the
// enabled plugins, opens the remote control socket and then waits for a quit
// request or cancellation. Shutdown runs the same steps backwards: plugins
// are closed while every module is still alive, then modules stop, then the
// socket closes and the claim is released.
//
// Keep orchestration here. Module behavior lives in the module packages and
// optional behavior lives in plugins.
package daemon
