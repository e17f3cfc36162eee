package vm

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"path/filepath"
	"sync"
	"time"

	"github.com/javanstorm/vmhost/pkg/hypervisor"
)

type fakeDisks struct {
	mu        sync.Mutex
	attachErr error
	detachErr error
	delay     time.Duration
	// onAttach runs inside Attach, before it returns.
	onAttach func(shadow string)

	next     int
	attached map[string]string // device -> shadow
	detached []string
}

func newFakeDisks() *fakeDisks {
	return &fakeDisks{attached: make(map[string]string)}
}

func (f *fakeDisks) Attach(_ context.Context, _, shadow string) (string, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.onAttach != nil {
		f.onAttach(shadow)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attachErr != nil {
		return "", f.attachErr
	}
	f.next++
	dev := fmt.Sprintf("/dev/disk%d", f.next+3)
	f.attached[dev] = shadow
	return dev, nil
}

func (f *fakeDisks) Detach(_ context.Context, device string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detached = append(f.detached, device)
	delete(f.attached, device)
	return f.detachErr
}

func (f *fakeDisks) attachedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.attached)
}

func (f *fakeDisks) detachedDevices() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.detached...)
}

type fakeImages struct {
	dir       string
	available []string
}

func (f *fakeImages) BasePath() string              { return filepath.Join(f.dir, "disks", "centos.dmg") }
func (f *fakeImages) ShadowPath(name string) string { return filepath.Join(f.dir, "vms", name+".shadow") }
func (f *fakeImages) Available() ([]string, error)  { return f.available, nil }

type fakeProcess struct {
	pid        int
	ignoreTerm bool

	mu         sync.Mutex
	done       chan struct{}
	exited     bool
	terminated bool
	killed     bool
}

func newFakeProcess(pid int) *fakeProcess {
	return &fakeProcess{pid: pid, done: make(chan struct{})}
}

func (p *fakeProcess) PID() int { return p.pid }

func (p *fakeProcess) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.exited
}

func (p *fakeProcess) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return hypervisor.ErrNotRunning
	}
	p.terminated = true
	if !p.ignoreTerm {
		p.exitLocked()
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return hypervisor.ErrNotRunning
	}
	p.killed = true
	p.exitLocked()
	return nil
}

// crash makes the process exit on its own.
func (p *fakeProcess) crash() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exitLocked()
}

func (p *fakeProcess) exitLocked() {
	if !p.exited {
		p.exited = true
		close(p.done)
	}
}

func (p *fakeProcess) Wait() error {
	<-p.done
	return nil
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

type fakeLauncher struct {
	mu       sync.Mutex
	spawnErr error
	spawned  []*fakeProcess
	configs  []hypervisor.VMConfig
}

func (l *fakeLauncher) Spawn(_ context.Context, cfg *hypervisor.VMConfig) (hypervisor.Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.spawnErr != nil {
		return nil, l.spawnErr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := newFakeProcess(1000 + len(l.spawned))
	l.spawned = append(l.spawned, p)
	l.configs = append(l.configs, *cfg)
	return p, nil
}

func (l *fakeLauncher) spawnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.spawned)
}

func (l *fakeLauncher) process(i int) *fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spawned[i]
}

type fakeConsole struct {
	dir   string
	addr  netip.Addr
	err   error
	calls int
}

func (c *fakeConsole) InputPath(name string) string  { return filepath.Join(c.dir, "stdin_"+name) }
func (c *fakeConsole) OutputPath(name string) string { return filepath.Join(c.dir, "stdout_"+name) }

func (c *fakeConsole) Discover(_ context.Context, _ string) (netip.Addr, error) {
	c.calls++
	if c.err != nil {
		return netip.Addr{}, c.err
	}
	return c.addr, nil
}

var errBoom = errors.New("boom")
