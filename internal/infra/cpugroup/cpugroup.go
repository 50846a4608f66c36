// Package cpugroup provides best-effort CPU isolation for workload groups
// via the cgroup v2 cpu controller. A Handle represents one workload
// group's CPU share; schedulers look handles up through a Provider and must
// tolerate a handle being absent or disappearing, since handle lifetime is
// owned by workload-group administration, not by any scheduler.
package cpugroup

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DefaultGroup is the workload group used when none is configured.
const DefaultGroup = "system"

// Provider is the weak-lookup surface schedulers use to find the CPU
// control handle of their workload group. A missing handle means
// "unavailable", never an error.
type Provider interface {
	Lookup(group string) (*Handle, bool)
}

// Handle controls the CPU share of one workload group. Attach is
// best-effort: when the cgroup filesystem is unavailable the attachment is
// recorded but no OS-level constraint is applied.
type Handle struct {
	group string
	root  string

	mu        sync.Mutex
	cpuWeight int
	attached  map[string]struct{}
}

// NewHandle creates a handle rooted at the given cgroup v2 mount point,
// e.g. /sys/fs/cgroup. The weight follows cpu.weight semantics (1-10000).
func NewHandle(root, group string, cpuWeight int) (*Handle, error) {
	if group == "" {
		return nil, fmt.Errorf("cpu group name must not be empty")
	}
	if cpuWeight < 1 || cpuWeight > 10000 {
		return nil, fmt.Errorf("cpu group %q: weight %d outside [1, 10000]", group, cpuWeight)
	}

	return &Handle{
		group:     group,
		root:      root,
		cpuWeight: cpuWeight,
		attached:  make(map[string]struct{}),
	}, nil
}

// Group returns the workload group this handle controls.
func (h *Handle) Group() string { return h.group }

// AttachPool associates a worker pool with this group's CPU share and
// applies the share to the group's cgroup. Errors are reported but leave
// the handle usable; attach is expected to be best-effort.
func (h *Handle) AttachPool(poolName string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.attached[poolName] = struct{}{}

	return h.applyWeight()
}

// DetachPool removes a previously attached pool.
func (h *Handle) DetachPool(poolName string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.attached, poolName)
}

// AttachedPools returns the names of pools currently attached.
func (h *Handle) AttachedPools() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	pools := make([]string, 0, len(h.attached))
	for name := range h.attached {
		pools = append(pools, name)
	}
	return pools
}

// SetCPUWeight updates the group's CPU share and reapplies it.
func (h *Handle) SetCPUWeight(weight int) error {
	if weight < 1 || weight > 10000 {
		return fmt.Errorf("cpu group %q: weight %d outside [1, 10000]", h.group, weight)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.cpuWeight = weight
	return h.applyWeight()
}

func (h *Handle) applyWeight() error {
	if h.root == "" {
		return nil
	}

	path := filepath.Join(h.root, h.group, "cpu.weight")
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", h.cpuWeight)), 0o644); err != nil {
		return fmt.Errorf("cpu group %q: writing cpu.weight: %w", h.group, err)
	}
	return nil
}

// Registry owns the CPU group handles of a node. It is the strong owner;
// everything else holds the group name and resolves it through Lookup.
type Registry struct {
	mu      sync.RWMutex
	root    string
	handles map[string]*Handle
}

var _ Provider = (*Registry)(nil)

// NewRegistry creates an empty handle registry. An empty root disables
// cgroup filesystem writes, leaving attachment purely advisory.
func NewRegistry(root string) *Registry {
	return &Registry{
		root:    root,
		handles: make(map[string]*Handle),
	}
}

// Register creates (or returns) the handle for a workload group.
func (r *Registry) Register(group string, cpuWeight int) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[group]; ok {
		return h, nil
	}

	h, err := NewHandle(r.root, group, cpuWeight)
	if err != nil {
		return nil, err
	}
	r.handles[group] = h
	return h, nil
}

// Lookup resolves a workload group to its handle. ok is false when the
// group has no handle; callers proceed without CPU isolation.
func (r *Registry) Lookup(group string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handles[group]
	return h, ok
}

// Remove drops the handle for a workload group. Schedulers that already
// attached keep running; subsequent lookups report unavailable.
func (r *Registry) Remove(group string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, group)
}
