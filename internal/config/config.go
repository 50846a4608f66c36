// Package config defines the worker node configuration surface for scan
// scheduling: pool sizing for the local and remote scan schedulers and the
// workload groups the node isolates CPU for.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Config represents the top-level node configuration.
type Config struct {
	Node NodeConfig `yaml:"node"`
	Scan ScanConfig `yaml:"scan"`
}

// NodeConfig holds node-wide settings.
type NodeConfig struct {
	// Name identifies the worker node in logs and telemetry.
	Name string `yaml:"name"`

	// CgroupRoot is the cgroup v2 mount point used for workload-group CPU
	// isolation. Empty disables cgroup writes (attachment stays advisory).
	CgroupRoot string `yaml:"cgroup_root"`

	// WorkloadGroups are the administrative groups sharing this node.
	WorkloadGroups []WorkloadGroupConfig `yaml:"workload_groups" validate:"dive"`
}

// WorkloadGroupConfig sizes one workload group's scan scheduler and CPU
// share.
type WorkloadGroupConfig struct {
	Name       string `yaml:"name" validate:"required"`
	CPUWeight  int    `yaml:"cpu_weight" validate:"omitempty,gte=1,lte=10000"`
	MinThreads int    `yaml:"min_threads" validate:"gte=0"`
	MaxThreads int    `yaml:"max_threads" validate:"gte=0"`
	QueueSize  int    `yaml:"queue_size" validate:"gte=0"`
}

// ScanConfig sizes the node's scan scheduler pools.
type ScanConfig struct {
	LocalPool  PoolConfig `yaml:"local_pool"`
	RemotePool PoolConfig `yaml:"remote_pool"`
}

// PoolConfig holds the bounds of one bounded worker pool. Zero values are
// filled from hardware concurrency by Normalize.
type PoolConfig struct {
	MinThreads int `yaml:"min_threads" validate:"gte=0"`
	MaxThreads int `yaml:"max_threads" validate:"gte=0"`
	QueueSize  int `yaml:"queue_size" validate:"gte=0"`
}

// Remote scan defaults. Remote scans are I/O bound, so the pool runs far
// more workers than the node has cores.
const (
	defaultRemoteThreadFloor = 512
	defaultRemoteQueueSize   = 4096
)

// Default returns a configuration with every sizing field left for
// Normalize to derive from hardware concurrency.
func Default() *Config {
	return &Config{
		Node: NodeConfig{Name: "worker"},
	}
}

// Normalize fills zero-valued sizing fields from the node's core count.
func (c *Config) Normalize(cores int) {
	if cores < 1 {
		cores = 1
	}

	lp := &c.Scan.LocalPool
	if lp.MaxThreads == 0 {
		lp.MaxThreads = cores
	}
	if lp.MinThreads == 0 {
		lp.MinThreads = 1
	}
	if lp.QueueSize == 0 {
		lp.QueueSize = 128 * cores
	}

	rp := &c.Scan.RemotePool
	if rp.MaxThreads == 0 {
		rp.MaxThreads = max(defaultRemoteThreadFloor, 2*cores)
	}
	if rp.MinThreads == 0 {
		rp.MinThreads = 1
	}
	if rp.QueueSize == 0 {
		rp.QueueSize = defaultRemoteQueueSize
	}

	for i := range c.Node.WorkloadGroups {
		wg := &c.Node.WorkloadGroups[i]
		if wg.CPUWeight == 0 {
			wg.CPUWeight = 100
		}
		if wg.MaxThreads == 0 {
			wg.MaxThreads = cores
		}
		if wg.MinThreads == 0 {
			wg.MinThreads = 1
		}
		if wg.QueueSize == 0 {
			wg.QueueSize = 128 * cores
		}
	}
}

// Validate checks field constraints and the min<=max pool invariants.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Scan.LocalPool.MinThreads > c.Scan.LocalPool.MaxThreads {
		return fmt.Errorf("local pool: min threads %d above max threads %d",
			c.Scan.LocalPool.MinThreads, c.Scan.LocalPool.MaxThreads)
	}
	if c.Scan.RemotePool.MinThreads > c.Scan.RemotePool.MaxThreads {
		return fmt.Errorf("remote pool: min threads %d above max threads %d",
			c.Scan.RemotePool.MinThreads, c.Scan.RemotePool.MaxThreads)
	}
	for _, wg := range c.Node.WorkloadGroups {
		if wg.MinThreads > wg.MaxThreads {
			return fmt.Errorf("workload group %q: min threads %d above max threads %d",
				wg.Name, wg.MinThreads, wg.MaxThreads)
		}
	}

	return nil
}
