// Package hypervisor launches and supervises external hypervisor processes.
// The orchestrator never talks to the hypervisor beyond its command line,
// its console files and process signals.
package hypervisor

import (
	"context"
)

// Launcher spawns hypervisor processes.
type Launcher interface {
	// Spawn validates cfg and starts a hypervisor process for it.
	// The returned Process is running; it is never nil on success.
	Spawn(ctx context.Context, cfg *VMConfig) (Process, error)
}

// Process is the handle of one spawned hypervisor process.
// Exactly one owner holds it; it is released once Wait returns.
type Process interface {
	// PID is the operating-system process id.
	PID() int

	// Alive is a non-blocking liveness probe. It never reaps the process.
	Alive() bool

	// Terminate asks the process to shut down (SIGTERM).
	Terminate() error

	// Kill forcefully terminates the process (SIGKILL).
	Kill() error

	// Wait blocks the calling goroutine until the process has exited and
	// returns its exit error. It may be called any number of times.
	Wait() error

	// Done is closed once the process has exited.
	Done() <-chan struct{}
}
