package scan

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScannerStateTransitions(t *testing.T) {
	d := newScannerDelegate(&fakeScanner{name: "s0", blocks: 1})
	require.Equal(t, ScannerIdle, d.State())

	require.True(t, d.markScheduled())
	require.Equal(t, ScannerScheduled, d.State())

	// Claiming an already-scheduled scanner must fail.
	require.False(t, d.markScheduled())

	require.True(t, d.markRunning())
	require.Equal(t, ScannerRunning, d.State())
	require.False(t, d.markRunning())

	require.True(t, d.markIdle(ScannerRunning))
	require.Equal(t, ScannerIdle, d.State())

	require.True(t, d.markScheduled())
	require.True(t, d.markRunning())
	require.True(t, d.markFinished())
	require.Equal(t, ScannerFinished, d.State())

	// Terminal states are absorbing.
	require.False(t, d.markScheduled())
	require.False(t, d.markRunning())
}

func TestScannerErroredIsTerminal(t *testing.T) {
	d := newScannerDelegate(&fakeScanner{name: "s0", blocks: 1})
	require.True(t, d.markScheduled())
	require.True(t, d.markRunning())
	require.True(t, d.markErrored())
	require.Equal(t, ScannerErrored, d.State())
	require.False(t, d.markScheduled())
}

func TestOnlyOneClaimerWinsSchedule(t *testing.T) {
	d := newScannerDelegate(&fakeScanner{name: "s0", blocks: 1})

	const claimers = 32
	var wins int
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(claimers)

	for i := 0; i < claimers; i++ {
		go func() {
			defer wg.Done()
			if d.markScheduled() {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, wins)
	require.Equal(t, ScannerScheduled, d.State())
}

func TestDelegateCloseIsExactlyOnce(t *testing.T) {
	s := &fakeScanner{name: "s0", blocks: 1}
	d := newScannerDelegate(s)

	require.NoError(t, d.close(context.Background()))
	require.NoError(t, d.close(context.Background()))
	require.Equal(t, int32(1), s.closes.Load())
}

func TestScannerStateString(t *testing.T) {
	require.Equal(t, "idle", ScannerIdle.String())
	require.Equal(t, "scheduled", ScannerScheduled.String())
	require.Equal(t, "running", ScannerRunning.String())
	require.Equal(t, "finished", ScannerFinished.String())
	require.Equal(t, "errored", ScannerErrored.String())
	require.Equal(t, "unknown", ScannerState(99).String())
}
