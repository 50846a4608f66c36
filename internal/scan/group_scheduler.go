package scan

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/quarrydb/quarry/internal/infra/cpugroup"
	"github.com/quarrydb/quarry/internal/infra/pool"
	"github.com/quarrydb/quarry/pkg/common/logger"
)

// GroupScheduler is a named, resizable, optionally CPU-isolated execution
// pool for scan tasks. It owns exactly one bounded worker pool, created at
// Start, and holds only a weak lookup to its workload group's CPU control
// handle — the handle's lifetime is managed elsewhere and it may be absent.
type GroupScheduler struct {
	name          string
	workloadGroup string

	// cpuGroups resolves the workload group to a CPU control handle at
	// start time. May be nil when the node runs without CPU isolation.
	cpuGroups cpugroup.Provider

	stopped atomic.Bool
	stopo   sync.Once

	// mu guards resize bookkeeping against concurrent submission:
	// submissions take the read side so they never observe a half-resized
	// pool, and do not block each other.
	mu   sync.RWMutex
	pool *pool.Pool

	logger  *logger.Logger
	metrics Metrics
}

// NewGroupScheduler creates a scheduler for one named scan workload. An
// empty workloadGroup defaults to the system group.
func NewGroupScheduler(
	name string,
	workloadGroup string,
	cpuGroups cpugroup.Provider,
	logger *logger.Logger,
	metrics Metrics,
) *GroupScheduler {
	if workloadGroup == "" {
		workloadGroup = cpugroup.DefaultGroup
	}

	return &GroupScheduler{
		name:          name,
		workloadGroup: workloadGroup,
		cpuGroups:     cpuGroups,
		logger: logger.With(
			"component", "group_scan_scheduler",
			"scheduler", name,
			"workload_group", workloadGroup,
		),
		metrics: metrics,
	}
}

// Name returns the scheduler's name.
func (s *GroupScheduler) Name() string { return s.name }

// WorkloadGroup returns the workload group this scheduler belongs to.
func (s *GroupScheduler) WorkloadGroup() string { return s.workloadGroup }

// Start constructs the underlying worker pool with the given bounds and
// attaches the workload group's CPU control handle when one is available.
// Attach is best-effort; a vanished handle only costs isolation.
func (s *GroupScheduler) Start(maxThreads, minThreads, queueSize int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pool != nil {
		return fmt.Errorf("scan scheduler %q already started", s.name)
	}

	p, err := pool.New(pool.Config{
		Name:       s.name,
		MinThreads: minThreads,
		MaxThreads: maxThreads,
		QueueSize:  queueSize,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("starting scan scheduler %q: %w", s.name, err)
	}
	s.pool = p

	if s.cpuGroups != nil {
		if h, ok := s.cpuGroups.Lookup(s.workloadGroup); ok {
			if err := h.AttachPool(s.name); err != nil {
				s.logger.Warn(context.Background(), "attaching cpu group to scan pool failed",
					"error", err,
				)
			}
		}
	}

	return nil
}

// SubmitScanTask enqueues a task onto the pool. The pool's backpressure
// error is returned unmodified; the scheduler neither drops nor blocks.
func (s *GroupScheduler) SubmitScanTask(task *ScanTask) error {
	if s.stopped.Load() {
		s.metrics.IncTasksRejected(context.Background(), s.name, "stopped")
		return fmt.Errorf("scan scheduler %q: %w", s.name, ErrSchedulerStopped)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.pool == nil {
		return fmt.Errorf("scan scheduler %q not started", s.name)
	}

	if err := s.pool.Submit(task.Run); err != nil {
		s.metrics.IncTasksRejected(context.Background(), s.name, "queue_full")
		return err
	}
	s.metrics.IncTasksSubmitted(context.Background(), s.name)
	return nil
}

// ResetThreadNum performs a live resize of both thread bounds. Ordering
// avoids a transient min > max: growing raises max before min, shrinking
// lowers min before max. A failed step is logged and the other step is
// still attempted.
func (s *GroupScheduler) ResetThreadNum(newMax, newMin int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pool == nil {
		return
	}

	curMax := s.pool.MaxThreads()
	curMin := s.pool.MinThreads()
	if curMax == newMax && curMin == newMin {
		return
	}

	ctx := context.Background()
	if newMax >= curMax {
		if err := s.pool.SetMaxThreads(newMax); err != nil {
			s.logger.Warn(ctx, "failed to set max threads for scan pool", "error", err)
		}
		if err := s.pool.SetMinThreads(newMin); err != nil {
			s.logger.Warn(ctx, "failed to set min threads for scan pool", "error", err)
		}
	} else {
		if err := s.pool.SetMinThreads(newMin); err != nil {
			s.logger.Warn(ctx, "failed to set min threads for scan pool", "error", err)
		}
		if err := s.pool.SetMaxThreads(newMax); err != nil {
			s.logger.Warn(ctx, "failed to set max threads for scan pool", "error", err)
		}
	}
}

// ResetMaxThreadNum adjusts only the upper bound. No-op when unchanged.
func (s *GroupScheduler) ResetMaxThreadNum(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pool == nil || s.pool.MaxThreads() == n {
		return
	}
	if err := s.pool.SetMaxThreads(n); err != nil {
		s.logger.Info(context.Background(), "reset max thread num failed", "error", err)
	}
}

// ResetMinThreadNum adjusts only the lower bound. No-op when unchanged.
func (s *GroupScheduler) ResetMinThreadNum(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pool == nil || s.pool.MinThreads() == n {
		return
	}
	if err := s.pool.SetMinThreads(n); err != nil {
		s.logger.Info(context.Background(), "reset min thread num failed", "error", err)
	}
}

// QueueSize returns the number of pending tasks. Best-effort read.
func (s *GroupScheduler) QueueSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pool == nil {
		return 0
	}
	return s.pool.QueueDepth()
}

// ActiveThreads returns the number of live workers. Best-effort read.
func (s *GroupScheduler) ActiveThreads() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pool == nil {
		return 0
	}
	return s.pool.ActiveThreads()
}

// MaxThreads returns the current upper thread bound.
func (s *GroupScheduler) MaxThreads() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pool == nil {
		return 0
	}
	return s.pool.MaxThreads()
}

// MinThreads returns the current lower thread bound.
func (s *GroupScheduler) MinThreads() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pool == nil {
		return 0
	}
	return s.pool.MinThreads()
}

// ThreadDebugInfo returns a point-in-time snapshot of the pool's state.
func (s *GroupScheduler) ThreadDebugInfo() pool.ThreadStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pool == nil {
		return pool.ThreadStats{Name: s.name}
	}
	return s.pool.DebugInfo()
}

// Stop sets the stop flag, shuts the pool down, and blocks until in-flight
// work drains. Idempotent; once stopped no further task is accepted.
func (s *GroupScheduler) Stop() {
	s.stopo.Do(func() {
		s.stopped.Store(true)

		s.mu.RLock()
		p := s.pool
		s.mu.RUnlock()

		if p != nil {
			p.Shutdown()
			p.Wait()
		}
		s.logger.Info(context.Background(), "Scan scheduler shutdown")
	})
}
