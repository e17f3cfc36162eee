package hypervisor

import "errors"

// Configuration errors
var (
	ErrMissingName     = errors.New("hypervisor: instance name is required")
	ErrInvalidCPUCount = errors.New("hypervisor: CPU count must be at least 1")
	ErrInvalidMemory   = errors.New("hypervisor: memory must look like 512M or 1G")
	ErrMissingDisk     = errors.New("hypervisor: disk device is required")
	ErrMissingConsole  = errors.New("hypervisor: console paths are required")
	ErrMissingKernel   = errors.New("hypervisor: kernel path is required")
)

// Runtime errors
var (
	ErrSpawn      = errors.New("hypervisor: failed to spawn process")
	ErrNotRunning = errors.New("hypervisor: process is not running")
)
