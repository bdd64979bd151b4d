package refspec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldFollowCheckpointDefault(t *testing.T) {
	dir := t.TempDir()
	ok, reason := ShouldFollowCheckpoint(dir, "eos/x/foo", "eos/x/next")
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestShouldFollowCheckpointForceEnv(t *testing.T) {
	dir := t.TempDir()

	t.Setenv(forceFollowCheckpointEnv, "1")
	ok, _ := ShouldFollowCheckpoint(dir, "eos/x/foo", "eos/x/next")
	assert.True(t, ok)

	t.Setenv(forceFollowCheckpointEnv, "0")
	ok, reason := ShouldFollowCheckpoint(dir, "eos/x/foo", "eos/x/next")
	assert.False(t, ok)
	assert.NotEmpty(t, reason)
}

// Scenario 4 of spec §8: a remapped NVMe configuration refuses the checkpoint.
func TestShouldFollowCheckpointNVMeRemapRefuses(t *testing.T) {
	dir := t.TempDir()
	driverDir := filepath.Join(dir, nvmeRemapDriverDir)
	require.NoError(t, os.MkdirAll(driverDir, 0o755))

	target := filepath.Join(dir, "target-device")
	require.NoError(t, os.WriteFile(target, nil, 0o644))
	require.NoError(t, os.Symlink(target, filepath.Join(driverDir, "0000:01:00.0")))

	ok, reason := ShouldFollowCheckpoint(dir, "eos/x/foo", "eos/x/next")
	assert.False(t, ok)
	assert.NotEmpty(t, reason)
}

func TestShouldFollowCheckpointNonMatchingSymlinkIgnored(t *testing.T) {
	dir := t.TempDir()
	driverDir := filepath.Join(dir, nvmeRemapDriverDir)
	require.NoError(t, os.MkdirAll(driverDir, 0o755))

	target := filepath.Join(dir, "other-device")
	require.NoError(t, os.WriteFile(target, nil, 0o644))
	require.NoError(t, os.Symlink(target, filepath.Join(driverDir, "not-a-pci-address")))

	ok, _ := ShouldFollowCheckpoint(dir, "eos/x/foo", "eos/x/next")
	assert.True(t, ok)
}
