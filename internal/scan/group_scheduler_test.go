package scan

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quarrydb/quarry/internal/infra/cpugroup"
	"github.com/quarrydb/quarry/pkg/common/logger"
)

func newTestScheduler(t *testing.T, maxThreads, minThreads, queueSize int) *GroupScheduler {
	t.Helper()

	s := NewGroupScheduler("test_scan", "", nil, logger.Noop(), NoopMetrics{})
	require.NoError(t, s.Start(maxThreads, minThreads, queueSize))
	return s
}

// testTask builds a bare task around a closure, bypassing the scanner
// context machinery the scheduler does not care about.
func testTask(f func()) *ScanTask {
	return &ScanTask{scanFunc: f}
}

func TestGroupSchedulerDefaultsToSystemGroup(t *testing.T) {
	s := NewGroupScheduler("test_scan", "", nil, logger.Noop(), NoopMetrics{})
	require.Equal(t, cpugroup.DefaultGroup, s.WorkloadGroup())
	require.Equal(t, "test_scan", s.Name())
}

func TestGroupSchedulerDoubleStartFails(t *testing.T) {
	s := newTestScheduler(t, 4, 1, 8)
	defer s.Stop()

	require.Error(t, s.Start(4, 1, 8))
}

func TestGroupSchedulerSubmitBeforeStartFails(t *testing.T) {
	s := NewGroupScheduler("test_scan", "", nil, logger.Noop(), NoopMetrics{})
	require.Error(t, s.SubmitScanTask(testTask(func() {})))
}

func TestGroupSchedulerExecutesTasks(t *testing.T) {
	s := newTestScheduler(t, 4, 1, 32)

	var completed atomic.Int64
	for i := 0; i < 16; i++ {
		require.NoError(t, s.SubmitScanTask(testTask(func() {
			time.Sleep(time.Millisecond)
			completed.Add(1)
		})))
	}

	// Stop drains in-flight and queued tasks before returning.
	s.Stop()
	require.Equal(t, int64(16), completed.Load())
	require.Equal(t, 0, s.QueueSize())
	require.Equal(t, 0, s.ActiveThreads())
}

func TestGroupSchedulerSubmitAfterStopFails(t *testing.T) {
	s := newTestScheduler(t, 2, 1, 8)
	s.Stop()
	s.Stop() // idempotent

	err := s.SubmitScanTask(testTask(func() {}))
	require.ErrorIs(t, err, ErrSchedulerStopped)
}

func TestGroupSchedulerSaturationErrorIsReported(t *testing.T) {
	s := newTestScheduler(t, 1, 1, 1)

	gate := make(chan struct{})
	defer func() {
		close(gate)
		s.Stop()
	}()

	// Saturate: one task on the worker, one held by the pool dispatcher,
	// one in the queue slot. Retry transient rejections while tasks are
	// still moving into place.
	accepted := 0
	for accepted < 3 {
		if err := s.SubmitScanTask(testTask(func() { <-gate })); err == nil {
			accepted++
			continue
		}
		time.Sleep(time.Millisecond)
	}

	err := s.SubmitScanTask(testTask(func() {}))
	require.ErrorIs(t, err, ErrQueueSaturated)
}

func TestResetThreadNumGrowAndShrink(t *testing.T) {
	s := newTestScheduler(t, 4, 1, 8)
	defer s.Stop()

	s.ResetThreadNum(8, 4)
	require.Equal(t, 8, s.MaxThreads())
	require.Equal(t, 4, s.MinThreads())

	s.ResetThreadNum(2, 1)
	require.Equal(t, 2, s.MaxThreads())
	require.Equal(t, 1, s.MinThreads())
}

func TestResetThreadNumNeverInvertsBounds(t *testing.T) {
	s := newTestScheduler(t, 4, 1, 8)
	defer s.Stop()

	// Sequences mixing valid and invalid targets. A failed step is logged
	// and skipped; min <= max must hold after every call.
	seqs := [][2]int{
		{8, 4},
		{2, 5}, // min above requested max
		{16, 1},
		{1, 1},
		{0, 0}, // both invalid
		{4, 2},
	}
	for _, sq := range seqs {
		s.ResetThreadNum(sq[0], sq[1])
		require.LessOrEqual(t, s.MinThreads(), s.MaxThreads(),
			"after ResetThreadNum(%d, %d)", sq[0], sq[1])
	}
}

func TestResetSingleBoundNoOpWhenUnchanged(t *testing.T) {
	s := newTestScheduler(t, 4, 2, 8)
	defer s.Stop()

	s.ResetMaxThreadNum(4)
	s.ResetMinThreadNum(2)
	require.Equal(t, 4, s.MaxThreads())
	require.Equal(t, 2, s.MinThreads())

	s.ResetMaxThreadNum(6)
	require.Equal(t, 6, s.MaxThreads())
	s.ResetMinThreadNum(3)
	require.Equal(t, 3, s.MinThreads())
}

func TestResetThreadNumWhileTasksRunning(t *testing.T) {
	s := newTestScheduler(t, 4, 1, 64)

	var completed atomic.Int64
	for i := 0; i < 24; i++ {
		require.NoError(t, s.SubmitScanTask(testTask(func() {
			time.Sleep(2 * time.Millisecond)
			completed.Add(1)
		})))
	}

	s.ResetThreadNum(2, 2)
	require.LessOrEqual(t, s.MinThreads(), s.MaxThreads())

	s.Stop()
	require.Equal(t, int64(24), completed.Load())
}

func TestThreadDebugInfo(t *testing.T) {
	s := newTestScheduler(t, 4, 2, 8)
	defer s.Stop()

	info := s.ThreadDebugInfo()
	require.Equal(t, "test_scan", info.Name)
	require.Equal(t, 2, info.Min)
	require.Equal(t, 4, info.Max)
	require.False(t, info.Stopped)
}
