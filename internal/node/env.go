// Package node holds the worker node environment: the handle bundling
// hardware facts, configuration, and shared capabilities that node-level
// singletons are initialized from.
package node

import (
	"fmt"
	"runtime"

	"github.com/quarrydb/quarry/internal/config"
	"github.com/quarrydb/quarry/internal/infra/cpugroup"
)

// Env is the environment handle passed to node-level initialization. It is
// constructed once at startup and treated as read-only afterwards.
type Env struct {
	// Cores is the node's hardware concurrency.
	Cores int

	// Cfg is the normalized, validated node configuration.
	Cfg *config.Config

	// CPUGroups owns the node's workload-group CPU control handles.
	CPUGroups *cpugroup.Registry
}

// NewEnv normalizes and validates cfg against the runtime's core count and
// registers the configured workload groups' CPU handles.
func NewEnv(cfg *config.Config) (*Env, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	cores := runtime.GOMAXPROCS(0)
	cfg.Normalize(cores)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("node env: %w", err)
	}

	groups := cpugroup.NewRegistry(cfg.Node.CgroupRoot)
	for _, wg := range cfg.Node.WorkloadGroups {
		if _, err := groups.Register(wg.Name, wg.CPUWeight); err != nil {
			return nil, fmt.Errorf("node env: registering cpu group: %w", err)
		}
	}

	return &Env{
		Cores:     cores,
		Cfg:       cfg,
		CPUGroups: groups,
	}, nil
}
