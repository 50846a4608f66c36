// Package pool provides the bounded worker pool used to execute scan work.
// A pool is a named executor with a minimum/maximum worker count and a
// capacity-limited pending queue. Submission never blocks the caller: when
// the queue is full the submission fails and backpressure is reported
// upstream.
package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/quarrydb/quarry/pkg/common/logger"
)

var (
	// ErrQueueFull is returned by Submit when the pending queue is at
	// capacity. Callers decide whether to retry or fail.
	ErrQueueFull = errors.New("worker pool queue is full")

	// ErrPoolShutdown is returned by Submit after Shutdown has been called.
	ErrPoolShutdown = errors.New("worker pool is shut down")
)

// idleWorkerExpiry is how long an idle worker above the minimum is kept
// alive before being reclaimed.
const idleWorkerExpiry = 10 * time.Second

// Config holds the construction parameters for a Pool.
type Config struct {
	Name       string
	MinThreads int
	MaxThreads int
	QueueSize  int
}

// ThreadStats is a point-in-time snapshot of a pool's execution state.
// Reads are best-effort and not synchronized with concurrent submissions.
type ThreadStats struct {
	Name    string
	Min     int
	Max     int
	Active  int
	Idle    int
	Queued  int
	Stopped bool
}

// Pool is a bounded, live-resizable worker pool. Execution is delegated to
// an ants goroutine pool whose capacity tracks the max thread bound; a
// dispatcher goroutine feeds it from the bounded pending queue so that
// Submit itself can fail fast instead of blocking.
type Pool struct {
	name string

	inner *ants.Pool
	queue chan func()

	// mu guards the thread bounds and the stopped flag, and serializes
	// Shutdown against in-flight Submits (queue close).
	mu         sync.RWMutex
	minThreads int
	maxThreads int
	stopped    bool

	inflight       sync.WaitGroup
	dispatcherDone chan struct{}

	logger *logger.Logger
}

// New constructs a started Pool. It fails when the thread bounds or queue
// size are invalid, or when the underlying executor cannot be created.
func New(cfg Config, log *logger.Logger) (*Pool, error) {
	if cfg.MaxThreads < 1 {
		return nil, fmt.Errorf("pool %q: max threads must be >= 1, got %d", cfg.Name, cfg.MaxThreads)
	}
	if cfg.MinThreads < 0 || cfg.MinThreads > cfg.MaxThreads {
		return nil, fmt.Errorf("pool %q: min threads %d outside [0, %d]",
			cfg.Name, cfg.MinThreads, cfg.MaxThreads)
	}
	if cfg.QueueSize < 1 {
		return nil, fmt.Errorf("pool %q: queue size must be >= 1, got %d", cfg.Name, cfg.QueueSize)
	}

	inner, err := ants.NewPool(cfg.MaxThreads, ants.WithExpiryDuration(idleWorkerExpiry))
	if err != nil {
		return nil, fmt.Errorf("pool %q: creating executor: %w", cfg.Name, err)
	}

	p := &Pool{
		name:           cfg.Name,
		inner:          inner,
		queue:          make(chan func(), cfg.QueueSize),
		minThreads:     cfg.MinThreads,
		maxThreads:     cfg.MaxThreads,
		dispatcherDone: make(chan struct{}),
		logger:         log.With("component", "worker_pool", "pool", cfg.Name),
	}

	go p.dispatch()

	return p, nil
}

// Submit enqueues a task for execution. It fails fast with ErrQueueFull when
// the pending queue is saturated and with ErrPoolShutdown after Shutdown;
// it never blocks the caller.
func (p *Pool) Submit(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return ErrPoolShutdown
	}

	select {
	case p.queue <- task:
		p.inflight.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

// dispatch feeds queued tasks to the executor. The executor submit blocks
// while all workers are busy, which paces dispatch without dropping work.
func (p *Pool) dispatch() {
	defer close(p.dispatcherDone)

	for task := range p.queue {
		task := task
		if err := p.inner.Submit(func() { p.runTask(task) }); err != nil {
			// The executor is only released once the queue has drained, so
			// this path means it was torn down externally. Run inline rather
			// than lose an accepted task.
			p.runTask(task)
		}
	}
}

// runTask executes one task, containing panics so a failing task never
// takes a worker down with it.
func (p *Pool) runTask(task func()) {
	defer p.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error(context.Background(), "task panicked in worker pool",
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	task()
}

// SetMaxThreads resizes the upper worker bound. The executor capacity is
// retuned live; running workers above the new bound finish their current
// task before exiting.
func (p *Pool) SetMaxThreads(n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n < 1 {
		return fmt.Errorf("pool %q: max threads must be >= 1, got %d", p.name, n)
	}
	if n < p.minThreads {
		return fmt.Errorf("pool %q: max threads %d below min threads %d", p.name, n, p.minThreads)
	}
	if n == p.maxThreads {
		return nil
	}

	p.inner.Tune(n)
	p.maxThreads = n
	return nil
}

// SetMinThreads adjusts the lower worker bound. Goroutines need no warm
// floor, so the minimum is bookkeeping: it bounds valid max values and is
// reported by introspection.
func (p *Pool) SetMinThreads(n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n < 0 {
		return fmt.Errorf("pool %q: min threads must be >= 0, got %d", p.name, n)
	}
	if n > p.maxThreads {
		return fmt.Errorf("pool %q: min threads %d above max threads %d", p.name, n, p.maxThreads)
	}

	p.minThreads = n
	return nil
}

// MinThreads returns the current minimum worker bound.
func (p *Pool) MinThreads() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.minThreads
}

// MaxThreads returns the current maximum worker bound.
func (p *Pool) MaxThreads() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.maxThreads
}

// ActiveThreads returns the number of workers currently alive.
func (p *Pool) ActiveThreads() int { return p.inner.Running() }

// QueueDepth returns the number of tasks accepted but not yet started.
func (p *Pool) QueueDepth() int { return len(p.queue) + p.inner.Waiting() }

// DebugInfo returns a best-effort snapshot of the pool's state.
func (p *Pool) DebugInfo() ThreadStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return ThreadStats{
		Name:    p.name,
		Min:     p.minThreads,
		Max:     p.maxThreads,
		Active:  p.inner.Running(),
		Idle:    p.inner.Free(),
		Queued:  len(p.queue) + p.inner.Waiting(),
		Stopped: p.stopped,
	}
}

// Shutdown stops accepting new tasks. Idempotent. Already-accepted tasks,
// queued or running, still execute; use Wait to block until they drain.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}
	p.stopped = true
	close(p.queue)
}

// Wait blocks until every accepted task has finished and all workers have
// exited. It must be preceded by Shutdown.
func (p *Pool) Wait() {
	<-p.dispatcherDone
	p.inflight.Wait()
	if err := p.inner.ReleaseTimeout(30 * time.Second); err != nil {
		p.logger.Warn(context.Background(), "worker pool release timed out", "error", err)
	}
}
