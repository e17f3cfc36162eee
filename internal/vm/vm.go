// Package vm is the lifecycle orchestrator: the registry of running
// instances and the start/stop/kill state machine that brackets each
// hypervisor process with a disk attach and detach.
//
// All work on one instance name is serialized by a per-name lock, including
// waits on external processes. Work on distinct names runs in parallel.
package vm
