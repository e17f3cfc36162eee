package hypervisor

import (
	"fmt"
	"os"
	"os/exec"
)

// execProcess is a Process backed by an os/exec command. A single reaper
// goroutine owns cmd.Wait; everything else observes the done channel so
// the exit status is consumed exactly once.
type execProcess struct {
	cmd  *exec.Cmd
	pid  int
	done chan struct{}
	err  error
}

// startProcess starts cmd and begins reaping it in the background.
func startProcess(cmd *exec.Cmd) (*execProcess, error) {
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpawn, err)
	}

	p := &execProcess{
		cmd:  cmd,
		pid:  cmd.Process.Pid,
		done: make(chan struct{}),
	}
	go p.reap()
	return p, nil
}

func (p *execProcess) reap() {
	p.err = p.cmd.Wait()
	close(p.done)
}

func (p *execProcess) PID() int {
	return p.pid
}

func (p *execProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
	}
	return probe(p.pid) == nil
}

func (p *execProcess) Terminate() error {
	return p.signal(termSignal)
}

func (p *execProcess) Kill() error {
	return p.signal(os.Kill)
}

func (p *execProcess) Wait() error {
	<-p.done
	return p.err
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}
