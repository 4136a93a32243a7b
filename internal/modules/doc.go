// Package modules hosts the daemon's long-lived subsystems.
//
// Each module is bound to its own Worker: a goroutine running a cooperative
// loop over a mailbox. The Host constructs modules strictly in order, so a
// later module may look up an earlier one through the Registry while it is
// being built. Shutdown walks the modules in reverse, asks each worker to
// stop, and joins it with a bounded wait; a worker that overstays is reported
// and abandoned.
//
// Code outside a module never touches module state directly. It either holds
// a reference obtained from the Registry and calls methods that are safe from
// any goroutine, or it submits work with Worker.Do / Worker.Post.
package modules
