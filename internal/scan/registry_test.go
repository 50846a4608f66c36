package scan

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/quarrydb/quarry/internal/config"
	"github.com/quarrydb/quarry/internal/node"
	"github.com/quarrydb/quarry/pkg/common/logger"
)

func newTestEnv(t *testing.T) *node.Env {
	t.Helper()

	env, err := node.NewEnv(&config.Config{
		Node: config.NodeConfig{
			Name: "test-worker",
			WorkloadGroups: []config.WorkloadGroupConfig{
				{Name: "analytics", MaxThreads: 2, MinThreads: 1, QueueSize: 8},
			},
		},
		Scan: config.ScanConfig{
			LocalPool:  config.PoolConfig{MaxThreads: 2, MinThreads: 1, QueueSize: 16},
			RemotePool: config.PoolConfig{MaxThreads: 4, MinThreads: 1, QueueSize: 16},
		},
	})
	require.NoError(t, err)
	return env
}

func newTestRegistry(t *testing.T) *SchedulerRegistry {
	t.Helper()

	r := NewSchedulerRegistry(logger.Noop(), NoopMetrics{}, noop.NewTracerProvider().Tracer("test"))
	require.NoError(t, r.Init(newTestEnv(t)))
	t.Cleanup(r.Stop)
	return r
}

func registryContext(t *testing.T, r *SchedulerRegistry, kind SourceKind, group string, scanners ...Scanner) *ScannerContext {
	t.Helper()

	sctx, err := r.NewContext(context.Background(), ContextConfig{
		SourceKind:    kind,
		WorkloadGroup: group,
		Scanners:      scanners,
	})
	require.NoError(t, err)
	return sctx
}

func TestRegistryInitTwiceFails(t *testing.T) {
	r := newTestRegistry(t)
	require.Error(t, r.Init(newTestEnv(t)))
}

func TestRegistryBuiltinSchedulers(t *testing.T) {
	r := newTestRegistry(t)

	require.NotNil(t, r.LocalScheduler())
	require.NotNil(t, r.RemoteScheduler())
	require.Equal(t, LocalSchedulerName, r.LocalScheduler().Name())
	require.Equal(t, RemoteSchedulerName, r.RemoteScheduler().Name())
	require.Equal(t, 4, r.RemoteThreadPoolMaxThreadNum())

	g, ok := r.GroupSchedulerFor("analytics")
	require.True(t, ok)
	require.Equal(t, "analytics", g.WorkloadGroup())
}

func TestRegistryRouting(t *testing.T) {
	r := newTestRegistry(t)
	s := &fakeScanner{name: "s0", blocks: 1}

	local := registryContext(t, r, SourceLocal, "", s)
	require.Same(t, r.LocalScheduler(), r.route(local))

	remote := registryContext(t, r, SourceRemote, "", s)
	require.Same(t, r.RemoteScheduler(), r.route(remote))

	// A remote scan ignores its workload group; only local scans are
	// subject to group isolation.
	remoteGrouped := registryContext(t, r, SourceRemote, "analytics", s)
	require.Same(t, r.RemoteScheduler(), r.route(remoteGrouped))

	grouped := registryContext(t, r, SourceLocal, "analytics", s)
	g, ok := r.GroupSchedulerFor("analytics")
	require.True(t, ok)
	require.Same(t, g, r.route(grouped))

	// Unknown groups fall back to the local pool.
	unknown := registryContext(t, r, SourceLocal, "no-such-group", s)
	require.Same(t, r.LocalScheduler(), r.route(unknown))
}

func TestRegistryEndToEndScan(t *testing.T) {
	r := newTestRegistry(t)

	const n = 6
	for _, kind := range []SourceKind{SourceLocal, SourceRemote} {
		t.Run(kind.String(), func(t *testing.T) {
			scanners := make([]Scanner, 0, n)
			for i := 0; i < n; i++ {
				scanners = append(scanners, &fakeScanner{
					name:      fmt.Sprintf("s%d", i),
					blocks:    4,
					readDelay: time.Millisecond,
				})
			}

			sctx := registryContext(t, r, kind, "", scanners...)
			require.NoError(t, LaunchWithBackoff(context.Background(), sctx))

			blocks := drainAll(t, sctx)
			require.Len(t, blocks, n*4)
			require.True(t, sctx.IsFinished())

			for _, s := range scanners {
				require.Equal(t, int32(1), s.(*fakeScanner).closes.Load())
			}
		})
	}
}

func TestRegistryRegisterAndUnregisterGroup(t *testing.T) {
	r := newTestRegistry(t)
	s := &fakeScanner{name: "s0", blocks: 1}

	g, err := r.RegisterGroup("etl", 2, 1, 8)
	require.NoError(t, err)
	require.Equal(t, "etl", g.WorkloadGroup())

	_, err = r.RegisterGroup("etl", 2, 1, 8)
	require.Error(t, err, "duplicate group registration must fail")

	sctx := registryContext(t, r, SourceLocal, "etl", s)
	require.Same(t, g, r.route(sctx))

	r.UnregisterGroup("etl")
	_, ok := r.GroupSchedulerFor("etl")
	require.False(t, ok)
	require.Same(t, r.LocalScheduler(), r.route(sctx))

	// Unregistering an unknown group is a no-op.
	r.UnregisterGroup("never-registered")
}

func TestRegistrySubmitAfterStopFails(t *testing.T) {
	r := NewSchedulerRegistry(logger.Noop(), NoopMetrics{}, noop.NewTracerProvider().Tracer("test"))
	require.NoError(t, r.Init(newTestEnv(t)))

	s := &fakeScanner{name: "s0", blocks: 1}
	sctx := registryContext(t, r, SourceLocal, "", s)

	r.Stop()
	r.Stop() // idempotent

	err := r.Submit(sctx, testTask(func() {}))
	require.ErrorIs(t, err, ErrRegistryClosed)

	err = sctx.Launch(context.Background())
	require.ErrorIs(t, err, ErrRegistryClosed)
}

func TestRegistryStopDrainsInFlightScans(t *testing.T) {
	r := NewSchedulerRegistry(logger.Noop(), NoopMetrics{}, noop.NewTracerProvider().Tracer("test"))
	require.NoError(t, r.Init(newTestEnv(t)))

	s := &fakeScanner{name: "s0", blocks: 3, readDelay: 2 * time.Millisecond}
	sctx := registryContext(t, r, SourceLocal, "", s)
	require.NoError(t, sctx.Launch(context.Background()))

	r.Stop()

	// Quanta that were already on a worker completed; nothing new was
	// accepted afterwards.
	require.Eventually(t, func() bool {
		sctx.mu.Lock()
		defer sctx.mu.Unlock()
		return sctx.scheduled == 0
	}, 5*time.Second, time.Millisecond)
}

func TestRegisterGroupBeforeInitFails(t *testing.T) {
	r := NewSchedulerRegistry(logger.Noop(), NoopMetrics{}, noop.NewTracerProvider().Tracer("test"))
	_, err := r.RegisterGroup("etl", 2, 1, 8)
	require.Error(t, err)
}

func TestGlobalRegistryLifecycle(t *testing.T) {
	require.Nil(t, Global())

	r, err := InitGlobal(newTestEnv(t), logger.Noop(), NoopMetrics{}, noop.NewTracerProvider().Tracer("test"))
	require.NoError(t, err)
	require.Same(t, r, Global())

	_, err = InitGlobal(newTestEnv(t), logger.Noop(), NoopMetrics{}, noop.NewTracerProvider().Tracer("test"))
	require.Error(t, err)

	StopGlobal()
	require.Nil(t, Global())
	StopGlobal() // idempotent
}
