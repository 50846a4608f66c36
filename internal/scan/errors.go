package scan

import (
	"errors"

	"github.com/quarrydb/quarry/internal/infra/pool"
)

var (
	// ErrRegistryClosed is returned by Submit once the registry has been
	// stopped.
	ErrRegistryClosed = errors.New("scan scheduler registry is closed")

	// ErrSchedulerStopped is returned when a task is submitted to a
	// scheduler whose stop flag is set.
	ErrSchedulerStopped = errors.New("scan scheduler is stopped")

	// ErrQueueSaturated is the backpressure error surfaced, unmodified,
	// from the underlying worker pool. Retry policy belongs to the caller.
	ErrQueueSaturated = pool.ErrQueueFull

	// ErrNoScheduler is returned when no scheduler matches a context's
	// data-source kind or workload group.
	ErrNoScheduler = errors.New("no scheduler matches the scan context")

	// ErrContextCancelled is observed by the consumer after a context was
	// cancelled before all scanners finished.
	ErrContextCancelled = errors.New("scanner context cancelled")
)
