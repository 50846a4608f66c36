package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeFillsDefaultsFromCores(t *testing.T) {
	cfg := Default()
	cfg.Normalize(8)

	require.Equal(t, 8, cfg.Scan.LocalPool.MaxThreads)
	require.Equal(t, 1, cfg.Scan.LocalPool.MinThreads)
	require.Equal(t, 128*8, cfg.Scan.LocalPool.QueueSize)

	// Remote scans are I/O bound; the pool floor dominates on small nodes.
	require.Equal(t, 512, cfg.Scan.RemotePool.MaxThreads)
	require.Equal(t, 1, cfg.Scan.RemotePool.MinThreads)
	require.Equal(t, 4096, cfg.Scan.RemotePool.QueueSize)

	require.NoError(t, cfg.Validate())
}

func TestNormalizeRemoteScalesWithLargeNodes(t *testing.T) {
	cfg := Default()
	cfg.Normalize(400)
	require.Equal(t, 800, cfg.Scan.RemotePool.MaxThreads)
}

func TestNormalizeKeepsExplicitValues(t *testing.T) {
	cfg := &Config{
		Scan: ScanConfig{
			LocalPool:  PoolConfig{MaxThreads: 3, MinThreads: 2, QueueSize: 10},
			RemotePool: PoolConfig{MaxThreads: 7, MinThreads: 4, QueueSize: 20},
		},
	}
	cfg.Normalize(16)

	require.Equal(t, 3, cfg.Scan.LocalPool.MaxThreads)
	require.Equal(t, 2, cfg.Scan.LocalPool.MinThreads)
	require.Equal(t, 10, cfg.Scan.LocalPool.QueueSize)
	require.Equal(t, 7, cfg.Scan.RemotePool.MaxThreads)
}

func TestNormalizeWorkloadGroups(t *testing.T) {
	cfg := &Config{
		Node: NodeConfig{
			Name: "worker",
			WorkloadGroups: []WorkloadGroupConfig{
				{Name: "analytics"},
				{Name: "etl", CPUWeight: 300, MaxThreads: 2},
			},
		},
	}
	cfg.Normalize(4)

	require.Equal(t, 100, cfg.Node.WorkloadGroups[0].CPUWeight)
	require.Equal(t, 4, cfg.Node.WorkloadGroups[0].MaxThreads)
	require.Equal(t, 1, cfg.Node.WorkloadGroups[0].MinThreads)

	require.Equal(t, 300, cfg.Node.WorkloadGroups[1].CPUWeight)
	require.Equal(t, 2, cfg.Node.WorkloadGroups[1].MaxThreads)

	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsInvertedBounds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "local pool",
			mutate: func(c *Config) { c.Scan.LocalPool.MinThreads = 10 },
		},
		{
			name:   "remote pool",
			mutate: func(c *Config) { c.Scan.RemotePool.MinThreads = 10000 },
		},
		{
			name: "workload group",
			mutate: func(c *Config) {
				c.Node.WorkloadGroups = []WorkloadGroupConfig{
					{Name: "g", MinThreads: 5, MaxThreads: 2, QueueSize: 1, CPUWeight: 100},
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Normalize(4)
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestValidateRejectsUnnamedWorkloadGroup(t *testing.T) {
	cfg := Default()
	cfg.Node.WorkloadGroups = []WorkloadGroupConfig{{MaxThreads: 2, MinThreads: 1, QueueSize: 4}}
	cfg.Normalize(4)
	require.Error(t, cfg.Validate())
}
