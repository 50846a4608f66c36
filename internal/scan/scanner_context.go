package scan

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/quarrydb/quarry/pkg/common/logger"
)

// TaskSubmitter routes a scan task to the scheduler matching its context.
// Implemented by SchedulerRegistry; tests substitute fakes.
type TaskSubmitter interface {
	Submit(sctx *ScannerContext, task *ScanTask) error
}

// ContextConfig holds the construction parameters for a ScannerContext.
type ContextConfig struct {
	SourceKind    SourceKind
	WorkloadGroup string
	Scanners      []Scanner

	// Parallelism bounds how many of the context's scanners may be
	// scheduled concurrently. Defaults to min(len(Scanners), GOMAXPROCS).
	Parallelism int

	// BufferCapacity bounds the block buffer between producers and the
	// consumer. Defaults to twice the parallelism.
	BufferCapacity int
}

// ScannerContext is the shared buffer and coordination object for one scan
// operator instance. N scanners act as producers, each resubmitted as a new
// ScanTask until exhausted; one pipeline operator drains blocks as the
// consumer. A full buffer parks producers instead of letting them run ahead
// (backpressure); draining resumes them.
//
// Block arrival order across different scanners is unspecified. Within one
// scanner, blocks arrive in source order because at most one execution of a
// scanner is ever in flight.
type ScannerContext struct {
	id            uuid.UUID
	sourceKind    SourceKind
	workloadGroup string
	submitter     TaskSubmitter
	parallelism   int
	capacity      int

	// readCtx is handed to scanner reads; cancelling it makes in-flight
	// quanta observe cancellation at their next blocking point.
	readCtx    context.Context
	cancelRead context.CancelFunc

	mu        sync.Mutex
	blocks    []Block
	idle      []*scannerDelegate // parked or not-yet-started scanners
	scheduled int                // tasks queued or running
	finished  int
	errored   int
	total     int
	failure   error
	cancelled bool
	launched  bool

	dataCh  chan struct{} // consumer wakeup
	drainCh chan struct{} // scheduled-reached-zero wakeup

	logger  *logger.Logger
	metrics Metrics
	tracer  trace.Tracer
}

// NewScannerContext constructs a context over the given scanners. The
// parent ctx bounds all scanner reads; cancelling it cancels the context
// cooperatively.
func NewScannerContext(
	ctx context.Context,
	cfg ContextConfig,
	submitter TaskSubmitter,
	logger *logger.Logger,
	metrics Metrics,
	tracer trace.Tracer,
) (*ScannerContext, error) {
	if len(cfg.Scanners) == 0 {
		return nil, fmt.Errorf("scanner context requires at least one scanner")
	}
	if submitter == nil {
		return nil, fmt.Errorf("scanner context requires a task submitter")
	}

	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = min(len(cfg.Scanners), runtime.GOMAXPROCS(0))
	}
	capacity := cfg.BufferCapacity
	if capacity <= 0 {
		capacity = 2 * parallelism
	}

	id := uuid.New()
	readCtx, cancel := context.WithCancel(ctx)

	c := &ScannerContext{
		id:            id,
		sourceKind:    cfg.SourceKind,
		workloadGroup: cfg.WorkloadGroup,
		submitter:     submitter,
		parallelism:   parallelism,
		capacity:      capacity,
		readCtx:       readCtx,
		cancelRead:    cancel,
		idle:          make([]*scannerDelegate, 0, len(cfg.Scanners)),
		total:         len(cfg.Scanners),
		dataCh:        make(chan struct{}, 1),
		drainCh:       make(chan struct{}, 1),
		logger: logger.With(
			"component", "scanner_context",
			"context_id", id.String(),
			"source_kind", cfg.SourceKind.String(),
		),
		metrics: metrics,
		tracer:  tracer,
	}

	for _, s := range cfg.Scanners {
		c.idle = append(c.idle, newScannerDelegate(s))
	}

	return c, nil
}

// ID returns the context's unique id.
func (c *ScannerContext) ID() uuid.UUID { return c.id }

// Kind returns the context's data-source kind, used for routing.
func (c *ScannerContext) Kind() SourceKind { return c.sourceKind }

// WorkloadGroup returns the workload group the context belongs to.
func (c *ScannerContext) WorkloadGroup() string { return c.workloadGroup }

// Launch schedules an initial batch of scanners, up to the configured
// parallelism. A saturation error leaves already-scheduled scanners running
// and the rest parked; Launch may be called again to continue.
func (c *ScannerContext) Launch(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "scanner_context.launch",
		trace.WithAttributes(
			attribute.String("context_id", c.id.String()),
			attribute.Int("scanner_count", c.total),
			attribute.Int("parallelism", c.parallelism),
		),
	)
	defer span.End()

	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		return ErrContextCancelled
	}
	if c.failure != nil {
		err := c.failure
		c.mu.Unlock()
		return err
	}
	c.launched = true
	batch := c.scheduleMoreLocked()
	c.mu.Unlock()

	c.logger.Debug(ctx, "Launching scanner context", "initial_batch", len(batch))

	if err := c.submitTasks(batch); err != nil {
		span.RecordError(err)
		return fmt.Errorf("launching scanner context %s: %w", c.id, err)
	}
	return nil
}

// scheduleMoreLocked claims idle scanners for submission while the
// parallelism limit and the block buffer allow. Caller holds c.mu and must
// submit the returned delegates after unlocking.
func (c *ScannerContext) scheduleMoreLocked() []*scannerDelegate {
	var out []*scannerDelegate
	for c.launched && !c.cancelled && c.failure == nil &&
		c.scheduled < c.parallelism && len(c.idle) > 0 && len(c.blocks) < c.capacity {
		d := c.idle[0]
		c.idle = c.idle[1:]
		if !d.markScheduled() {
			continue
		}
		c.scheduled++
		out = append(out, d)
	}
	return out
}

// submitTasks routes one task per delegate through the submitter. A failed
// submission returns the delegate to the parked list; the first error is
// returned with the rest still attempted.
func (c *ScannerContext) submitTasks(delegates []*scannerDelegate) error {
	var firstErr error
	for _, d := range delegates {
		task := newScanTask(c, d)
		if err := c.submitter.Submit(c, task); err != nil {
			c.mu.Lock()
			d.markIdle(ScannerScheduled)
			c.scheduled--
			c.idle = append(c.idle, d)
			if c.scheduled == 0 {
				signal(c.drainCh)
			}
			c.mu.Unlock()
			signal(c.dataCh)
			if firstErr == nil {
				firstErr = err
			}
		} else {
			c.metrics.AddTasksInFlight(c.readCtx, 1)
		}
	}
	return firstErr
}

// executeQuantum runs one bounded unit of a scanner's read work. It is the
// body of a ScanTask and runs on a worker pool thread.
func (c *ScannerContext) executeQuantum(d *scannerDelegate) {
	if !d.markRunning() {
		// A scheduled delegate is owned by exactly one task, so this is a
		// bookkeeping bug, not a recoverable race.
		c.logger.Error(c.readCtx, "scanner not in scheduled state at pickup",
			"scanner", d.scanner.Name(),
			"state", d.State().String(),
		)
		c.mu.Lock()
		c.scheduled--
		if c.scheduled == 0 {
			signal(c.drainCh)
		}
		c.mu.Unlock()
		c.metrics.AddTasksInFlight(c.readCtx, -1)
		return
	}

	if c.stopRequested() {
		c.abortQuantum(d)
		return
	}

	start := time.Now()
	block, eos, err := c.safeRead(d)
	c.metrics.ObserveScanQuantum(c.readCtx, time.Since(start))

	c.finishQuantum(d, block, eos, err)
}

// safeRead invokes the scanner's Read with panic containment so a failing
// scanner can never take down its worker thread.
func (c *ScannerContext) safeRead(d *scannerDelegate) (block Block, eos bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			block, eos = nil, false
			err = fmt.Errorf("scanner %q panicked: %v", d.scanner.Name(), r)
		}
	}()
	return d.scanner.Read(c.readCtx)
}

// abortQuantum parks a scanner whose task observed cancellation or failure
// before reading.
func (c *ScannerContext) abortQuantum(d *scannerDelegate) {
	c.mu.Lock()
	d.markIdle(ScannerRunning)
	c.idle = append(c.idle, d)
	c.scheduled--
	if c.scheduled == 0 {
		signal(c.drainCh)
	}
	c.mu.Unlock()
	c.metrics.AddTasksInFlight(c.readCtx, -1)
	signal(c.dataCh)
}

// finishQuantum applies the outcome of one read quantum. The context, not
// the task, is the single authority deciding whether the scanner is
// resubmitted, parked, or finished.
func (c *ScannerContext) finishQuantum(d *scannerDelegate, block Block, eos bool, err error) {
	var resubmit []*scannerDelegate
	var terminal bool

	c.mu.Lock()
	c.scheduled--

	switch {
	case err != nil:
		d.markErrored()
		c.errored++
		if c.failure == nil {
			c.failure = fmt.Errorf("scanner %q: %w", d.scanner.Name(), err)
		}
		terminal = true
		c.metrics.IncScanErrors(c.readCtx)

	case eos:
		if block != nil {
			c.blocks = append(c.blocks, block)
			c.metrics.IncBlocksProduced(c.readCtx)
		}
		d.markFinished()
		c.finished++
		terminal = true

	default:
		if block != nil {
			c.blocks = append(c.blocks, block)
			c.metrics.IncBlocksProduced(c.readCtx)
		}
		d.markIdle(ScannerRunning)
		switch {
		case c.cancelled || c.failure != nil:
			c.idle = append(c.idle, d)
		case len(c.blocks) < c.capacity:
			if d.markScheduled() {
				c.scheduled++
				resubmit = append(resubmit, d)
			}
		default:
			// Buffer full: park until the consumer drains space.
			c.idle = append(c.idle, d)
			c.metrics.IncScannersParked(c.readCtx)
		}
	}

	if c.scheduled == 0 {
		signal(c.drainCh)
	}
	c.mu.Unlock()

	c.metrics.AddTasksInFlight(c.readCtx, -1)
	signal(c.dataCh)

	if terminal {
		if cerr := d.close(context.WithoutCancel(c.readCtx)); cerr != nil {
			c.logger.Warn(c.readCtx, "closing scanner failed",
				"scanner", d.scanner.Name(),
				"error", cerr,
			)
		}
	}

	if len(resubmit) > 0 {
		// A saturation failure here parks the scanner; the consumer's next
		// drain re-schedules it.
		_ = c.submitTasks(resubmit)
	}
}

// GetBlock returns the next available block, blocking until one is
// produced, the context finishes, fails, or ctx is done. It returns
// (nil, nil) once every scanner is terminal and the buffer is drained.
// Draining space resumes parked scanners.
func (c *ScannerContext) GetBlock(ctx context.Context) (Block, error) {
	for {
		c.mu.Lock()
		if c.failure != nil {
			err := c.failure
			c.mu.Unlock()
			return nil, err
		}
		if len(c.blocks) > 0 {
			b := c.blocks[0]
			c.blocks = c.blocks[1:]
			batch := c.scheduleMoreLocked()
			c.mu.Unlock()
			c.metrics.IncBlocksConsumed(ctx)
			if len(batch) > 0 {
				_ = c.submitTasks(batch)
			}
			return b, nil
		}
		if c.cancelled {
			c.mu.Unlock()
			return nil, ErrContextCancelled
		}
		if c.finished+c.errored == c.total {
			c.mu.Unlock()
			return nil, nil
		}

		// No data yet. Make sure parked scanners are moving before waiting.
		batch := c.scheduleMoreLocked()
		c.mu.Unlock()
		if len(batch) > 0 {
			if err := c.submitTasks(batch); err != nil {
				c.mu.Lock()
				stalled := c.scheduled == 0 && len(c.blocks) == 0
				if stalled && c.failure == nil {
					c.failure = fmt.Errorf("scan scheduling stalled: %w", err)
				}
				c.mu.Unlock()
				if stalled {
					continue
				}
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.dataCh:
		}
	}
}

// TryGetBlock is the non-blocking variant of GetBlock. ok reports whether a
// block was returned; (nil, false, nil) means no block is ready yet or the
// context finished — distinguish with IsFinished.
func (c *ScannerContext) TryGetBlock() (Block, bool, error) {
	c.mu.Lock()
	if c.failure != nil {
		err := c.failure
		c.mu.Unlock()
		return nil, false, err
	}
	if len(c.blocks) == 0 {
		cancelled := c.cancelled
		c.mu.Unlock()
		if cancelled {
			return nil, false, ErrContextCancelled
		}
		return nil, false, nil
	}
	b := c.blocks[0]
	c.blocks = c.blocks[1:]
	batch := c.scheduleMoreLocked()
	c.mu.Unlock()

	c.metrics.IncBlocksConsumed(context.Background())
	if len(batch) > 0 {
		_ = c.submitTasks(batch)
	}
	return b, true, nil
}

// IsFinished reports whether the context has terminated: every scanner
// reached a terminal state and the buffer is drained, or the context was
// cancelled/failed and no task remains in flight.
func (c *ScannerContext) IsFinished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failure != nil || c.cancelled {
		return c.scheduled == 0
	}
	return c.finished+c.errored == c.total && len(c.blocks) == 0
}

// Failure returns the first scanner error observed, or nil.
func (c *ScannerContext) Failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure
}

// Cancel marks the context cancelled. In-flight tasks complete their
// current quantum and observe the flag before resubmitting; cancellation is
// cooperative and bounded by one quantum per scanner.
func (c *ScannerContext) Cancel() {
	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		return
	}
	c.cancelled = true
	c.mu.Unlock()

	c.cancelRead()
	signal(c.dataCh)
	signal(c.drainCh)
}

// Close cancels the context, waits until no task is in flight, and closes
// every scanner that has not reached a terminal state.
func (c *ScannerContext) Close(ctx context.Context) error {
	c.Cancel()

	for {
		c.mu.Lock()
		if c.scheduled == 0 {
			rest := c.idle
			c.idle = nil
			c.mu.Unlock()

			var errs []error
			for _, d := range rest {
				if err := d.close(ctx); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		}
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.drainCh:
		}
	}
}

// stopRequested reports whether new quanta should stop before reading.
func (c *ScannerContext) stopRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled || c.failure != nil
}

// signal performs a non-blocking wakeup on a capacity-1 channel.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
