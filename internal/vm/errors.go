package vm

import "errors"

// Request errors
var (
	ErrNoName           = errors.New("vm: no name given")
	ErrInvalidName      = errors.New("vm: invalid name")
	ErrInvalidResources = errors.New("vm: invalid resources")
)

// Transition errors
var (
	ErrAlreadyStarted = errors.New("vm: already started")
	ErrNotRunning     = errors.New("vm: not running")
	ErrAlreadyStopped = errors.New("vm: already stopped")
	ErrSpawn          = errors.New("vm: hypervisor spawn failed")
	ErrExists         = errors.New("vm: already registered")
)
