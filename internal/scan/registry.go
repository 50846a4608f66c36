package scan

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/quarrydb/quarry/internal/infra/cpugroup"
	"github.com/quarrydb/quarry/internal/node"
	"github.com/quarrydb/quarry/pkg/common/logger"
)

// Names of the node's built-in schedulers.
const (
	LocalSchedulerName  = "local_scan"
	RemoteSchedulerName = "remote_scan"
)

var _ TaskSubmitter = (*SchedulerRegistry)(nil)

// SchedulerRegistry owns the group scan schedulers of one worker node and
// is the single entry point query pipelines use to submit scan work. Local
// scans route to the local pool (or the matching workload-group pool when
// one is registered); remote/object-storage scans route to the remote pool.
type SchedulerRegistry struct {
	closed      atomic.Bool
	mu          sync.RWMutex
	initialized bool

	local  *GroupScheduler
	remote *GroupScheduler
	groups map[string]*GroupScheduler

	cpuGroups        cpugroup.Provider
	remoteMaxThreads int

	logger  *logger.Logger
	metrics Metrics
	tracer  trace.Tracer
}

// NewSchedulerRegistry creates an uninitialized registry. Construct one per
// test; node code uses the InitGlobal/Global singleton.
func NewSchedulerRegistry(logger *logger.Logger, metrics Metrics, tracer trace.Tracer) *SchedulerRegistry {
	return &SchedulerRegistry{
		groups:  make(map[string]*GroupScheduler),
		logger:  logger.With("component", "scan_scheduler_registry"),
		metrics: metrics,
		tracer:  tracer,
	}
}

// Init constructs the node's schedulers from the environment handle: one
// pool for local-disk scans, one for remote scans, and one per configured
// workload group. Calling Init twice without an intervening Stop is an
// error; it never double-allocates pools.
func (r *SchedulerRegistry) Init(env *node.Env) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed.Load() {
		return ErrRegistryClosed
	}
	if r.initialized {
		return fmt.Errorf("scan scheduler registry already initialized")
	}

	cfg := env.Cfg.Scan
	r.cpuGroups = env.CPUGroups

	local := NewGroupScheduler(LocalSchedulerName, "", env.CPUGroups, r.logger, r.metrics)
	if err := local.Start(cfg.LocalPool.MaxThreads, cfg.LocalPool.MinThreads, cfg.LocalPool.QueueSize); err != nil {
		return fmt.Errorf("initializing local scan scheduler: %w", err)
	}

	remote := NewGroupScheduler(RemoteSchedulerName, "", env.CPUGroups, r.logger, r.metrics)
	if err := remote.Start(cfg.RemotePool.MaxThreads, cfg.RemotePool.MinThreads, cfg.RemotePool.QueueSize); err != nil {
		local.Stop()
		return fmt.Errorf("initializing remote scan scheduler: %w", err)
	}

	r.local = local
	r.remote = remote
	r.remoteMaxThreads = cfg.RemotePool.MaxThreads

	for _, wg := range env.Cfg.Node.WorkloadGroups {
		g := NewGroupScheduler("scan_"+wg.Name, wg.Name, env.CPUGroups, r.logger, r.metrics)
		if err := g.Start(wg.MaxThreads, wg.MinThreads, wg.QueueSize); err != nil {
			r.stopAllLocked()
			return fmt.Errorf("initializing workload group scheduler %q: %w", wg.Name, err)
		}
		r.groups[wg.Name] = g
	}

	r.initialized = true
	r.logger.Info(context.Background(), "Scan scheduler registry initialized",
		"local_max_threads", cfg.LocalPool.MaxThreads,
		"remote_max_threads", cfg.RemotePool.MaxThreads,
		"workload_groups", len(r.groups),
	)
	return nil
}

// Submit routes a scan task to the scheduler matching its context. The
// target's backpressure error is reported, not retried; retry policy
// belongs to the caller.
func (r *SchedulerRegistry) Submit(sctx *ScannerContext, task *ScanTask) error {
	if r.closed.Load() {
		return ErrRegistryClosed
	}

	sched := r.route(sctx)
	if sched == nil {
		return fmt.Errorf("%w: kind=%s group=%q", ErrNoScheduler, sctx.Kind(), sctx.WorkloadGroup())
	}

	return sched.SubmitScanTask(task)
}

// route picks the scheduler for a context. Remote scans always use the
// shared remote pool; local scans prefer their workload group's pool.
func (r *SchedulerRegistry) route(sctx *ScannerContext) *GroupScheduler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if sctx.Kind() == SourceRemote {
		return r.remote
	}
	if g, ok := r.groups[sctx.WorkloadGroup()]; ok {
		return g
	}
	return r.local
}

// RegisterGroup creates and starts a scheduler for a workload group at
// runtime. Local-scan contexts carrying that group route to it.
func (r *SchedulerRegistry) RegisterGroup(workloadGroup string, maxThreads, minThreads, queueSize int) (*GroupScheduler, error) {
	if r.closed.Load() {
		return nil, ErrRegistryClosed
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return nil, fmt.Errorf("scan scheduler registry not initialized")
	}
	if _, ok := r.groups[workloadGroup]; ok {
		return nil, fmt.Errorf("workload group %q already has a scheduler", workloadGroup)
	}

	g := NewGroupScheduler("scan_"+workloadGroup, workloadGroup, r.cpuGroups, r.logger, r.metrics)
	if err := g.Start(maxThreads, minThreads, queueSize); err != nil {
		return nil, fmt.Errorf("starting workload group scheduler %q: %w", workloadGroup, err)
	}
	r.groups[workloadGroup] = g
	return g, nil
}

// UnregisterGroup stops and removes a workload group's scheduler, draining
// its in-flight tasks. Contexts carrying that group fall back to the local
// pool afterwards.
func (r *SchedulerRegistry) UnregisterGroup(workloadGroup string) {
	r.mu.Lock()
	g, ok := r.groups[workloadGroup]
	if ok {
		delete(r.groups, workloadGroup)
	}
	r.mu.Unlock()

	if ok {
		g.Stop()
	}
}

// RemoteThreadPoolMaxThreadNum returns the remote pool's configured upper
// thread bound.
func (r *SchedulerRegistry) RemoteThreadPoolMaxThreadNum() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.remoteMaxThreads
}

// LocalScheduler returns the local scan scheduler. Nil before Init.
func (r *SchedulerRegistry) LocalScheduler() *GroupScheduler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.local
}

// RemoteScheduler returns the remote scan scheduler. Nil before Init.
func (r *SchedulerRegistry) RemoteScheduler() *GroupScheduler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.remote
}

// GroupSchedulerFor returns the scheduler registered for a workload group.
func (r *SchedulerRegistry) GroupSchedulerFor(workloadGroup string) (*GroupScheduler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[workloadGroup]
	return g, ok
}

// Stop closes the registry and stops every owned scheduler, draining their
// in-flight work. Idempotent; concurrent submissions fail with
// ErrRegistryClosed.
func (r *SchedulerRegistry) Stop() {
	if !r.closed.CompareAndSwap(false, true) {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopAllLocked()
	r.initialized = false
	r.logger.Info(context.Background(), "Scan scheduler registry stopped")
}

// stopAllLocked stops all owned schedulers concurrently; each Stop blocks
// until that scheduler's in-flight tasks drain.
func (r *SchedulerRegistry) stopAllLocked() {
	var g errgroup.Group

	for _, sched := range []*GroupScheduler{r.local, r.remote} {
		if sched == nil {
			continue
		}
		sched := sched
		g.Go(func() error {
			sched.Stop()
			return nil
		})
	}
	for _, sched := range r.groups {
		sched := sched
		g.Go(func() error {
			sched.Stop()
			return nil
		})
	}
	_ = g.Wait()

	r.local = nil
	r.remote = nil
	r.groups = make(map[string]*GroupScheduler)
}

// NewContext constructs a scanner context bound to this registry and
// records a trace span linking it to the submitting pipeline.
func (r *SchedulerRegistry) NewContext(ctx context.Context, cfg ContextConfig) (*ScannerContext, error) {
	ctx, span := r.tracer.Start(ctx, "scan_registry.new_context",
		trace.WithAttributes(
			attribute.String("source_kind", cfg.SourceKind.String()),
			attribute.Int("scanner_count", len(cfg.Scanners)),
		),
	)
	defer span.End()

	return NewScannerContext(ctx, cfg, r, r.logger, r.metrics, r.tracer)
}
