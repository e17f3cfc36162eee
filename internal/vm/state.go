package vm

// State represents the lifecycle state of one instance.
type State int

const (
	StateAbsent   State = iota // Not tracked; never stored in the registry
	StateStarting              // Disk attach and spawn in progress
	StateRunning               // Hypervisor process running
	StateStopping              // Signal sent, waiting for exit and detach
	StateFailed                // Process found dead without being stopped
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
