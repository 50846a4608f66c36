package scan

// ScanTask is one schedulable quantum of a scanner's work: an owned
// callable bound to a shared reference to its owning context. Ownership of
// the callable transfers to the worker pool for the duration of execution.
// A task is executed at most once per submission; continuing an unfinished
// scanner is a new submission decided by the context, never a reentry.
type ScanTask struct {
	sctx     *ScannerContext
	delegate *scannerDelegate
	scanFunc func()
}

func newScanTask(sctx *ScannerContext, delegate *scannerDelegate) *ScanTask {
	t := &ScanTask{sctx: sctx, delegate: delegate}
	t.scanFunc = func() { sctx.executeQuantum(delegate) }
	return t
}

// Context returns the owning scanner context.
func (t *ScanTask) Context() *ScannerContext { return t.sctx }

// Run executes the task's quantum. It is invoked by a worker pool thread.
func (t *ScanTask) Run() { t.scanFunc() }
