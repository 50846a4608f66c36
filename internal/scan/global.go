package scan

import (
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/quarrydb/quarry/internal/node"
	"github.com/quarrydb/quarry/pkg/common/logger"
)

// The process-wide registry. All query pipelines on a node route through
// one consistent, resource-bounded pool set, so the node owns a single
// instance with an explicit init/teardown lifecycle. Tests construct their
// own registries instead of touching this one.
var (
	globalMu sync.Mutex
	global   *SchedulerRegistry
)

// InitGlobal initializes the process-wide scheduler registry from the node
// environment. It fails if the registry is already initialized.
func InitGlobal(env *node.Env, log *logger.Logger, metrics Metrics, tracer trace.Tracer) (*SchedulerRegistry, error) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if global != nil {
		return nil, fmt.Errorf("global scan scheduler registry already initialized")
	}

	r := NewSchedulerRegistry(log, metrics, tracer)
	if err := r.Init(env); err != nil {
		return nil, err
	}
	global = r
	return r, nil
}

// Global returns the process-wide registry, or nil before InitGlobal.
func Global() *SchedulerRegistry {
	globalMu.Lock()
	defer globalMu.Unlock()
	return global
}

// StopGlobal stops and clears the process-wide registry. Idempotent.
func StopGlobal() {
	globalMu.Lock()
	r := global
	global = nil
	globalMu.Unlock()

	if r != nil {
		r.Stop()
	}
}
