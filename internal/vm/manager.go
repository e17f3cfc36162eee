package vm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"k8s.io/utils/clock"

	"github.com/javanstorm/vmhost/internal/timing"
	"github.com/javanstorm/vmhost/pkg/hypervisor"
)

const (
	DefaultMemory = "1G"
	DefaultCPUs   = 1
)

// Disks attaches and detaches instance disk images.
type Disks interface {
	Attach(ctx context.Context, basePath, shadowPath string) (string, error)
	Detach(ctx context.Context, device string) error
}

// Images locates base and shadow images.
type Images interface {
	BasePath() string
	ShadowPath(name string) string
	Available() ([]string, error)
}

// Console is the side channel used to find a guest's address.
type Console interface {
	InputPath(name string) string
	OutputPath(name string) string
	Discover(ctx context.Context, name string) (netip.Addr, error)
}

// TransitionObserver is told about every state an instance enters.
type TransitionObserver interface {
	ObserveTransition(state string)
}

// ManagerConfig holds the collaborators and settings of a Manager.
type ManagerConfig struct {
	// Kernel, Initrd and Cmdline boot every guest.
	Kernel  string
	Initrd  string
	Cmdline string

	// StopTimeout escalates a graceful stop to a kill. Zero waits indefinitely.
	StopTimeout time.Duration

	Disks    Disks
	Images   Images
	Launcher hypervisor.Launcher
	Console  Console

	// Clock times stop escalation. Defaults to the real clock.
	Clock clock.Clock

	// Observer is optional.
	Observer TransitionObserver

	Logger *slog.Logger
}

// StartRequest describes an instance to start.
type StartRequest struct {
	Name   string
	Memory string // defaults to DefaultMemory
	CPUs   int    // defaults to DefaultCPUs
}

// StopResult reports a completed stop or kill.
type StopResult struct {
	Instance *Instance

	// DetachErr is set when the disk could not be detached. The instance
	// is gone from the registry regardless.
	DetachErr error
}

// Manager orchestrates instance lifecycles.
type Manager struct {
	cfg      ManagerConfig
	registry *Registry
	locks    *nameLocks
}

// NewManager creates a new VM manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		registry: NewRegistry(),
		locks:    newNameLocks(),
	}
}

// Registry exposes the instance registry for read-only inspection.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// NormalizeName trims name and checks it is usable as a file name
// component, since it names the shadow image and console files.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrNoName
	}
	if name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return name, nil
}

// Status returns the state of name without taking its lock. It is a
// hint for request validation; transitions re-check under the lock.
func (m *Manager) Status(name string) State {
	inst := m.registry.Get(name)
	if inst == nil {
		return StateAbsent
	}
	if !inst.process.Alive() {
		return StateFailed
	}
	return inst.State()
}

// Start attaches the instance's disk and spawns its hypervisor.
// On failure the name stays absent and nothing is left attached.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*Instance, error) {
	name, err := NormalizeName(req.Name)
	if err != nil {
		return nil, err
	}
	if req.Memory == "" {
		req.Memory = DefaultMemory
	}
	if req.CPUs == 0 {
		req.CPUs = DefaultCPUs
	}
	if req.CPUs < 1 {
		return nil, fmt.Errorf("%w: cpu must be at least 1, got %d", ErrInvalidResources, req.CPUs)
	}
	if !hypervisor.ValidMemory(req.Memory) {
		return nil, fmt.Errorf("%w: memory %q must look like 512M or 1G", ErrInvalidResources, req.Memory)
	}

	unlock := m.locks.Lock(name)
	defer unlock()

	if m.reconcile(ctx, name) == livenessAlive {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyStarted, name)
	}

	timer := timing.New()
	inst := &Instance{
		Name:   name,
		Memory: req.Memory,
		CPUs:   req.CPUs,
		UUID:   hypervisor.UUID(name).String(),
		state:  StateStarting,
	}
	m.observe(StateStarting)

	device, err := m.cfg.Disks.Attach(ctx, m.cfg.Images.BasePath(), m.cfg.Images.ShadowPath(name))
	if err != nil {
		m.cfg.Logger.ErrorContext(ctx, "start aborted: disk attach failed", "vm", name, "error", err)
		m.observe(StateAbsent)
		return nil, fmt.Errorf("attach disk for %s: %w", name, err)
	}
	inst.Device = device
	timer.Mark("attach")

	proc, err := m.cfg.Launcher.Spawn(ctx, &hypervisor.VMConfig{
		Name:       name,
		CPUs:       req.CPUs,
		Memory:     req.Memory,
		DiskDevice: device,
		ConsoleIn:  m.cfg.Console.InputPath(name),
		ConsoleOut: m.cfg.Console.OutputPath(name),
		Kernel:     m.cfg.Kernel,
		Initrd:     m.cfg.Initrd,
		Cmdline:    m.cfg.Cmdline,
	})
	if err != nil {
		m.cfg.Logger.ErrorContext(ctx, "start aborted: spawn failed", "vm", name, "device", device, "error", err)
		m.detach(ctx, name, device)
		m.observe(StateAbsent)
		return nil, fmt.Errorf("%w: %s: %w", ErrSpawn, name, err)
	}
	timer.Mark("spawn")

	inst.process = proc
	inst.StartedAt = m.cfg.Clock.Now()
	inst.setState(StateRunning)

	if err := m.registry.Insert(inst); err != nil {
		// The name lock makes this unreachable; undo rather than leak.
		_ = proc.Kill()
		_ = proc.Wait()
		m.detach(ctx, name, device)
		m.observe(StateAbsent)
		return nil, fmt.Errorf("register %s: %w", name, err)
	}
	m.observe(StateRunning)

	m.cfg.Logger.InfoContext(ctx, "vm started",
		"vm", name,
		"pid", proc.PID(),
		"device", device,
		"memory", req.Memory,
		"cpus", req.CPUs,
		timer.LogAttr("timing"))
	return inst, nil
}

// Stop sends a graceful terminate and waits for the hypervisor to exit.
func (m *Manager) Stop(ctx context.Context, name string) (*StopResult, error) {
	return m.stop(ctx, name, false)
}

// Kill forcefully terminates the hypervisor and waits for it to exit.
func (m *Manager) Kill(ctx context.Context, name string) (*StopResult, error) {
	return m.stop(ctx, name, true)
}

func (m *Manager) stop(ctx context.Context, name string, force bool) (*StopResult, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}

	unlock := m.locks.Lock(name)
	defer unlock()

	switch m.reconcile(ctx, name) {
	case livenessAbsent:
		return nil, fmt.Errorf("%w: %s", ErrNotRunning, name)
	case livenessReaped:
		return nil, fmt.Errorf("%w: %s", ErrAlreadyStopped, name)
	}

	inst := m.registry.Get(name)
	timer := timing.New()
	inst.setState(StateStopping)
	m.observe(StateStopping)

	signal, verb := inst.process.Terminate, "stop"
	if force {
		signal, verb = inst.process.Kill, "kill"
	}
	if err := signal(); err != nil && !errors.Is(err, hypervisor.ErrNotRunning) {
		inst.setState(StateRunning)
		return nil, fmt.Errorf("%s %s: %w", verb, name, err)
	}

	m.waitExit(ctx, inst, force)
	timer.Mark("exit")

	m.registry.Remove(name)
	m.observe(StateAbsent)

	res := &StopResult{Instance: inst}
	if err := m.cfg.Disks.Detach(ctx, inst.Device); err != nil {
		m.cfg.Logger.WarnContext(ctx, "disk detach failed", "vm", name, "device", inst.Device, "error", err)
		res.DetachErr = err
	}
	timer.Mark("detach")

	m.cfg.Logger.InfoContext(ctx, "vm stopped", "vm", name, "action", verb, timer.LogAttr("timing"))
	return res, nil
}

// waitExit blocks until the hypervisor exits, killing it if a graceful
// stop outlasts StopTimeout.
func (m *Manager) waitExit(ctx context.Context, inst *Instance, force bool) {
	proc := inst.process
	if force || m.cfg.StopTimeout <= 0 {
		_ = proc.Wait()
		return
	}

	select {
	case <-proc.Done():
	case <-m.cfg.Clock.After(m.cfg.StopTimeout):
		m.cfg.Logger.WarnContext(ctx, "stop timed out, killing hypervisor",
			"vm", inst.Name, "pid", proc.PID(), "timeout", m.cfg.StopTimeout)
		if err := proc.Kill(); err != nil && !errors.Is(err, hypervisor.ErrNotRunning) {
			m.cfg.Logger.ErrorContext(ctx, "kill after timeout failed", "vm", inst.Name, "error", err)
		}
	}
	_ = proc.Wait()
}

// List reconciles the registry and returns the names of running instances.
// Dead entries whose name is busy with another request are skipped; that
// request reconciles them itself.
func (m *Manager) List(ctx context.Context) []string {
	var names []string
	for _, inst := range m.registry.Snapshot() {
		if inst.process.Alive() {
			if inst.State() == StateRunning {
				names = append(names, inst.Name)
			}
			continue
		}

		unlock, ok := m.locks.TryLock(inst.Name)
		if !ok {
			continue
		}
		if m.reconcile(ctx, inst.Name) == livenessAlive {
			names = append(names, inst.Name)
		}
		unlock()
	}
	return names
}

// Address discovers the guest address of a running instance.
func (m *Manager) Address(ctx context.Context, name string) (netip.Addr, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return netip.Addr{}, err
	}

	unlock := m.locks.Lock(name)
	defer unlock()

	if m.reconcile(ctx, name) != livenessAlive {
		return netip.Addr{}, fmt.Errorf("%w: %s", ErrNotRunning, name)
	}
	return m.cfg.Console.Discover(ctx, name)
}

// Available lists instances that have a shadow image on disk.
func (m *Manager) Available() ([]string, error) {
	return m.cfg.Images.Available()
}

type liveness int

const (
	livenessAbsent liveness = iota // name not registered
	livenessAlive                  // registered, process running
	livenessReaped                 // registered but dead; now removed
)

// reconcile is the single liveness check shared by every operation. A
// registered instance whose hypervisor died on its own is marked failed,
// removed, and its disk detached. The caller must hold the name's lock.
func (m *Manager) reconcile(ctx context.Context, name string) liveness {
	inst := m.registry.Get(name)
	if inst == nil {
		return livenessAbsent
	}
	if inst.process.Alive() {
		return livenessAlive
	}

	inst.setState(StateFailed)
	m.observe(StateFailed)
	exitErr := inst.process.Wait()
	m.registry.Remove(name)
	m.cfg.Logger.WarnContext(ctx, "hypervisor exited on its own", "vm", name, "pid", inst.process.PID(), "exit", exitErr)

	m.detach(ctx, name, inst.Device)
	return livenessReaped
}

// detach is best-effort cleanup; failures are logged only.
func (m *Manager) detach(ctx context.Context, name, device string) {
	if err := m.cfg.Disks.Detach(ctx, device); err != nil {
		m.cfg.Logger.WarnContext(ctx, "disk detach failed", "vm", name, "device", device, "error", err)
	}
}

func (m *Manager) observe(s State) {
	if m.cfg.Observer != nil {
		m.cfg.Observer.ObserveTransition(s.String())
	}
}
