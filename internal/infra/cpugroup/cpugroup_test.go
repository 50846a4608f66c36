package cpugroup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewHandleValidation(t *testing.T) {
	_, err := NewHandle("", "", 100)
	require.Error(t, err)

	_, err = NewHandle("", "g", 0)
	require.Error(t, err)

	_, err = NewHandle("", "g", 10001)
	require.Error(t, err)

	h, err := NewHandle("", "g", 100)
	require.NoError(t, err)
	require.Equal(t, "g", h.Group())
}

func TestAttachWithoutCgroupRootIsAdvisory(t *testing.T) {
	h, err := NewHandle("", "analytics", 200)
	require.NoError(t, err)

	require.NoError(t, h.AttachPool("scan_analytics"))
	require.ElementsMatch(t, []string{"scan_analytics"}, h.AttachedPools())

	require.NoError(t, h.SetCPUWeight(500))

	h.DetachPool("scan_analytics")
	require.Empty(t, h.AttachedPools())
}

func TestAttachWritesCPUWeight(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "analytics"), 0o755))

	h, err := NewHandle(root, "analytics", 200)
	require.NoError(t, err)
	require.NoError(t, h.AttachPool("scan_analytics"))

	data, err := os.ReadFile(filepath.Join(root, "analytics", "cpu.weight"))
	require.NoError(t, err)
	require.Equal(t, "200\n", string(data))

	require.NoError(t, h.SetCPUWeight(750))
	data, err = os.ReadFile(filepath.Join(root, "analytics", "cpu.weight"))
	require.NoError(t, err)
	require.Equal(t, "750\n", string(data))
}

func TestAttachReportsMissingCgroupDir(t *testing.T) {
	h, err := NewHandle(filepath.Join(t.TempDir(), "absent"), "analytics", 200)
	require.NoError(t, err)

	// The error surfaces but the attachment is still recorded; isolation
	// is best-effort.
	require.Error(t, h.AttachPool("scan_analytics"))
	require.ElementsMatch(t, []string{"scan_analytics"}, h.AttachedPools())
}

func TestRegistryOwnsHandles(t *testing.T) {
	r := NewRegistry("")

	h1, err := r.Register("analytics", 200)
	require.NoError(t, err)

	// Re-registering returns the existing handle.
	h2, err := r.Register("analytics", 999)
	require.NoError(t, err)
	require.Same(t, h1, h2)

	got, ok := r.Lookup("analytics")
	require.True(t, ok)
	require.Same(t, h1, got)

	_, ok = r.Lookup("absent")
	require.False(t, ok)

	r.Remove("analytics")
	_, ok = r.Lookup("analytics")
	require.False(t, ok)

	_, err = r.Register("bad", -5)
	require.Error(t, err)
}
