package refspec

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreos/eos-updater-core/internal/pkg/content"
	"github.com/coreos/eos-updater-core/internal/pkg/deployment"
	"github.com/coreos/eos-updater-core/internal/pkg/ostreemeta"
	"github.com/coreos/eos-updater-core/internal/pkg/ref"
)

type fakeCommitStore struct {
	content.Store
	commit *ostreemeta.Commit
}

func (s *fakeCommitStore) LoadCommit(ctx context.Context, checksum string) (*ostreemeta.Commit, error) {
	return s.commit, nil
}

func bootedDeployment() *deployment.Deployment {
	return &deployment.Deployment{
		Checksum: "booted-checksum",
		Origin:   deployment.Origin{Refspec: ref.Refspec{Remote: "REMOTE", RefName: "eos/amd64/foo"}},
	}
}

func TestResolveNoCommitReturnsBootedRefspec(t *testing.T) {
	r := &Resolver{Store: &fakeCommitStore{commit: nil}}
	got, err := r.Resolve(context.Background(), bootedDeployment())
	require.NoError(t, err)
	assert.Equal(t, bootedDeployment().Origin.Refspec, got)
}

func TestResolveNoCheckpointTargetReturnsBootedRefspec(t *testing.T) {
	r := &Resolver{Store: &fakeCommitStore{commit: &ostreemeta.Commit{Metadata: map[string]interface{}{}}}}
	got, err := r.Resolve(context.Background(), bootedDeployment())
	require.NoError(t, err)
	assert.Equal(t, bootedDeployment().Origin.Refspec, got)
}

func TestResolveFollowsCheckpointWhenGateAllows(t *testing.T) {
	commit := &ostreemeta.Commit{Metadata: map[string]interface{}{
		ostreemeta.MetaKeyCheckpointTarget: "eos/amd64/next",
	}}
	r := &Resolver{
		Store: &fakeCommitStore{commit: commit},
		Gate:  func(sysrootPath, bootedRef, targetRef string) (bool, string) { return true, "" },
	}
	got, err := r.Resolve(context.Background(), bootedDeployment())
	require.NoError(t, err)
	assert.Equal(t, ref.Refspec{Remote: "REMOTE", RefName: "eos/amd64/next"}, got)
}

func TestResolveRefusesCheckpointWhenGateRefuses(t *testing.T) {
	commit := &ostreemeta.Commit{Metadata: map[string]interface{}{
		ostreemeta.MetaKeyCheckpointTarget: "eos/amd64/next",
	}}
	r := &Resolver{
		Store: &fakeCommitStore{commit: commit},
		Gate:  func(sysrootPath, bootedRef, targetRef string) (bool, string) { return false, "refused by test gate" },
	}
	got, err := r.Resolve(context.Background(), bootedDeployment())
	require.NoError(t, err)
	assert.Equal(t, bootedDeployment().Origin.Refspec, got)
}

// Scenario 4 of spec §8, exercised through Resolve with the real default
// gate: a normal device follows a checkpoint, a remapped-NVMe device does not.
func TestResolveWithDefaultGateNVMeRemapRefuses(t *testing.T) {
	commit := &ostreemeta.Commit{Metadata: map[string]interface{}{
		ostreemeta.MetaKeyCheckpointTarget: "eos/amd64/next",
	}}

	plainDir := t.TempDir()
	r := &Resolver{Store: &fakeCommitStore{commit: commit}, SysrootPath: plainDir}
	got, err := r.Resolve(context.Background(), bootedDeployment())
	require.NoError(t, err)
	assert.Equal(t, ref.Refspec{Remote: "REMOTE", RefName: "eos/amd64/next"}, got, "normal device must follow the checkpoint")

	remapDir := t.TempDir()
	driverDir := filepath.Join(remapDir, nvmeRemapDriverDir)
	require.NoError(t, os.MkdirAll(driverDir, 0o755))
	target := filepath.Join(remapDir, "target-device")
	require.NoError(t, os.WriteFile(target, nil, 0o644))
	require.NoError(t, os.Symlink(target, filepath.Join(driverDir, "0000:01:00.0")))

	r2 := &Resolver{Store: &fakeCommitStore{commit: commit}, SysrootPath: remapDir}
	got2, err := r2.Resolve(context.Background(), bootedDeployment())
	require.NoError(t, err)
	assert.Equal(t, bootedDeployment().Origin.Refspec, got2, "remapped NVMe device must refuse the checkpoint")
}
