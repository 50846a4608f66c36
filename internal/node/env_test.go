package node

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quarrydb/quarry/internal/config"
)

func TestNewEnvDefaults(t *testing.T) {
	env, err := NewEnv(nil)
	require.NoError(t, err)
	require.Positive(t, env.Cores)
	require.Equal(t, env.Cores, env.Cfg.Scan.LocalPool.MaxThreads)
	require.NotNil(t, env.CPUGroups)
}

func TestNewEnvRegistersWorkloadGroups(t *testing.T) {
	env, err := NewEnv(&config.Config{
		Node: config.NodeConfig{
			Name: "worker",
			WorkloadGroups: []config.WorkloadGroupConfig{
				{Name: "analytics", CPUWeight: 200},
			},
		},
	})
	require.NoError(t, err)

	h, ok := env.CPUGroups.Lookup("analytics")
	require.True(t, ok)
	require.Equal(t, "analytics", h.Group())
}

func TestNewEnvRejectsInvalidConfig(t *testing.T) {
	_, err := NewEnv(&config.Config{
		Scan: config.ScanConfig{
			LocalPool: config.PoolConfig{MinThreads: 8, MaxThreads: 2, QueueSize: 1},
		},
	})
	require.Error(t, err)
}
