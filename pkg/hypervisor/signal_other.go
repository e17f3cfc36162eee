//go:build !unix

package hypervisor

import "os"

var termSignal os.Signal = os.Kill

// probe cannot send a null signal here; the reaper's done channel is the
// only liveness source.
func probe(pid int) error {
	return nil
}

func (p *execProcess) signal(sig os.Signal) error {
	select {
	case <-p.done:
		return ErrNotRunning
	default:
	}
	return p.cmd.Process.Signal(sig)
}
