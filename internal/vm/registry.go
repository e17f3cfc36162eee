package vm

import (
	"sort"
	"sync"
	"time"

	"github.com/javanstorm/vmhost/pkg/hypervisor"
)

// Instance is one VM the orchestrator is tracking.
type Instance struct {
	// Name is the unique, trimmed instance name.
	Name string

	// Memory and CPUs are the resources requested at start.
	Memory string
	CPUs   int

	// UUID is the deterministic hypervisor UUID derived from Name.
	UUID string

	// Device is the attached disk device, required for detach.
	Device string

	// StartedAt is when the hypervisor was spawned.
	StartedAt time.Time

	process hypervisor.Process

	mu    sync.Mutex
	state State
}

// State returns the current lifecycle state.
func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

func (i *Instance) setState(s State) {
	i.mu.Lock()
	i.state = s
	i.mu.Unlock()
}

// Registry maps instance names to running instances. A name is present
// iff its attach and spawn completed and no stop, kill or reconciliation
// has removed it since.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]*Instance
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{instances: make(map[string]*Instance)}
}

// Insert adds inst unless its name is already present.
func (r *Registry) Insert(inst *Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.instances[inst.Name]; ok {
		return ErrExists
	}
	r.instances[inst.Name] = inst
	return nil
}

// Get returns the instance registered under name, or nil.
func (r *Registry) Get(name string) *Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.instances[name]
}

// Remove deletes name and returns the removed instance, or nil if absent.
func (r *Registry) Remove(name string) *Instance {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[name]
	if !ok {
		return nil
	}
	delete(r.instances, name)
	return inst
}

// Snapshot returns the registered instances sorted by name.
func (r *Registry) Snapshot() []*Instance {
	r.mu.RLock()
	out := make([]*Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// Len returns the number of registered instances.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}
