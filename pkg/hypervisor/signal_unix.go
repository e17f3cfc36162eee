//go:build unix

package hypervisor

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

var termSignal os.Signal = unix.SIGTERM

// probe sends the null signal to pid. EPERM still means the process exists.
func probe(pid int) error {
	err := unix.Kill(pid, 0)
	if err == nil || errors.Is(err, unix.EPERM) {
		return nil
	}
	return err
}

func (p *execProcess) signal(sig os.Signal) error {
	select {
	case <-p.done:
		return ErrNotRunning
	default:
	}
	if err := p.cmd.Process.Signal(sig); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return ErrNotRunning
		}
		return fmt.Errorf("signal pid %d: %w", p.pid, err)
	}
	return nil
}
