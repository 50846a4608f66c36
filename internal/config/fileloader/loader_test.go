package fileloader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
node:
  name: worker-1
  cgroup_root: /sys/fs/cgroup
  workload_groups:
    - name: analytics
      cpu_weight: 200
      max_threads: 8
scan:
  local_pool:
    min_threads: 1
    max_threads: 4
    queue_size: 256
  remote_pool:
    max_threads: 512
`), 0o600))

	cfg, err := NewFileLoader(path).Load(context.Background())
	require.NoError(t, err)

	require.Equal(t, "worker-1", cfg.Node.Name)
	require.Equal(t, "/sys/fs/cgroup", cfg.Node.CgroupRoot)
	require.Len(t, cfg.Node.WorkloadGroups, 1)
	require.Equal(t, "analytics", cfg.Node.WorkloadGroups[0].Name)
	require.Equal(t, 200, cfg.Node.WorkloadGroups[0].CPUWeight)
	require.Equal(t, 4, cfg.Scan.LocalPool.MaxThreads)
	require.Equal(t, 256, cfg.Scan.LocalPool.QueueSize)
	require.Equal(t, 512, cfg.Scan.RemotePool.MaxThreads)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := NewFileLoader(filepath.Join(t.TempDir(), "absent.yaml")).Load(context.Background())
	require.Error(t, err)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("node: [unclosed"), 0o600))

	_, err := NewFileLoader(path).Load(context.Background())
	require.Error(t, err)
}
