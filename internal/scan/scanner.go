package scan

import (
	"context"
	"sync/atomic"
)

// Scanner is one logical data-source reader producing blocks of rows. The
// physical read (column decoding, predicate pushdown, remote I/O) lives
// behind this interface; the scheduling core only drives it one bounded
// quantum at a time.
//
// Read performs one quantum of work and returns the produced block (may be
// nil), whether the source is exhausted, and any read error. A scanner's
// Read is never invoked concurrently; blocks within one scanner arrive in
// the source's natural order.
type Scanner interface {
	Name() string
	Read(ctx context.Context) (block Block, eos bool, err error)
	Close(ctx context.Context) error
}

// ScannerState is the scheduling state of one scanner.
type ScannerState int32

const (
	// ScannerIdle means the scanner is not scheduled and has more data.
	ScannerIdle ScannerState = iota

	// ScannerScheduled means a task for the scanner is queued or about to
	// run.
	ScannerScheduled

	// ScannerRunning means a worker is executing the scanner's Read.
	ScannerRunning

	// ScannerFinished is terminal: the source is exhausted.
	ScannerFinished

	// ScannerErrored is terminal: a Read failed and the failure was
	// propagated to the owning context.
	ScannerErrored
)

// String returns a human-readable scanner state.
func (s ScannerState) String() string {
	switch s {
	case ScannerIdle:
		return "idle"
	case ScannerScheduled:
		return "scheduled"
	case ScannerRunning:
		return "running"
	case ScannerFinished:
		return "finished"
	case ScannerErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// scannerDelegate pairs a Scanner with its scheduling state machine. All
// transitions are CAS-based, which is what guarantees at most one execution
// of a given scanner's Read is in flight at any time: only the single
// holder of a successful IDLE->SCHEDULED transition may later move the
// scanner to RUNNING.
type scannerDelegate struct {
	scanner Scanner
	state   atomic.Int32
	closed  atomic.Bool
}

func newScannerDelegate(s Scanner) *scannerDelegate {
	return &scannerDelegate{scanner: s}
}

// State returns the delegate's current scheduling state.
func (d *scannerDelegate) State() ScannerState {
	return ScannerState(d.state.Load())
}

func (d *scannerDelegate) transition(from, to ScannerState) bool {
	return d.state.CompareAndSwap(int32(from), int32(to))
}

// markScheduled claims the scanner for a new submission.
func (d *scannerDelegate) markScheduled() bool {
	return d.transition(ScannerIdle, ScannerScheduled)
}

// markRunning is performed by the worker that picked the task up.
func (d *scannerDelegate) markRunning() bool {
	return d.transition(ScannerScheduled, ScannerRunning)
}

// markIdle parks the scanner after a quantum that left data remaining.
func (d *scannerDelegate) markIdle(from ScannerState) bool {
	return d.transition(from, ScannerIdle)
}

func (d *scannerDelegate) markFinished() bool {
	return d.transition(ScannerRunning, ScannerFinished)
}

func (d *scannerDelegate) markErrored() bool {
	return d.transition(ScannerRunning, ScannerErrored)
}

// close releases the underlying scanner exactly once.
func (d *scannerDelegate) close(ctx context.Context) error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	return d.scanner.Close(ctx)
}
