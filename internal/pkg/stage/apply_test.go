package stage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreos/eos-updater-core/internal/pkg/content"
	"github.com/coreos/eos-updater-core/internal/pkg/deployment"
	"github.com/coreos/eos-updater-core/internal/pkg/ref"
)

type applyTrackingStore struct {
	*fakeStore
	bootversions    []int
	clearedRefspecs []ref.Refspec
	wroteDeployment *deployment.Deployment
	cleanupCalled   bool
}

func newApplyTrackingStore(bootversionSeq []int) *applyTrackingStore {
	return &applyTrackingStore{fakeStore: newFakeStore(), bootversions: bootversionSeq}
}

func (s *applyTrackingStore) BootVersion(ctx context.Context) (int, error) {
	v := s.bootversions[0]
	if len(s.bootversions) > 1 {
		s.bootversions = s.bootversions[1:]
	}
	return v, nil
}

func (s *applyTrackingStore) ClearRefspecLocally(ctx context.Context, rs ref.Refspec) error {
	s.clearedRefspecs = append(s.clearedRefspecs, rs)
	return nil
}

func (s *applyTrackingStore) SimpleWriteDeployment(ctx context.Context, osname string, newDep *deployment.Deployment, flags content.WriteDeploymentFlags) error {
	s.wroteDeployment = newDep
	return nil
}

func (s *applyTrackingStore) Cleanup(ctx context.Context) error {
	s.cleanupCalled = true
	return nil
}

func TestApplySameRefspecDoesNotClear(t *testing.T) {
	store := newApplyTrackingStore([]int{0, 0})
	store.booted = &deployment.Deployment{
		OSName:   "eos",
		Checksum: newChecksum('a'),
		Origin:   deployment.Origin{Refspec: ref.Refspec{Remote: remoteName, RefName: "eos/amd64/latest"}},
	}

	applier := &Applier{Store: store, OSName: "eos"}
	info := &UpdateInfo{
		Checksum:   newChecksum('b'),
		NewRefspec: ref.Refspec{Remote: remoteName, RefName: "eos/amd64/latest"},
		OldRefspec: ref.Refspec{Remote: remoteName, RefName: "eos/amd64/latest"},
	}

	changed, err := applier.Apply(context.Background(), info)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Empty(t, store.clearedRefspecs)
	require.NotNil(t, store.wroteDeployment)
	assert.Equal(t, info.Checksum, store.wroteDeployment.Checksum)
}

func TestApplyDifferentRefspecClearsOld(t *testing.T) {
	store := newApplyTrackingStore([]int{0, 1})
	oldRefspec := ref.Refspec{Remote: remoteName, RefName: "eos/x/foo"}
	store.booted = &deployment.Deployment{
		OSName:   "eos",
		Checksum: newChecksum('a'),
		Origin:   deployment.Origin{Refspec: oldRefspec},
	}
	store.refToCksum[oldRefspec.String()] = newChecksum('a')

	applier := &Applier{Store: store, OSName: "eos"}
	info := &UpdateInfo{
		Checksum:   newChecksum('b'),
		NewRefspec: ref.Refspec{Remote: remoteName, RefName: "eos/x/bar"},
		OldRefspec: oldRefspec,
	}

	changed, err := applier.Apply(context.Background(), info)
	require.NoError(t, err)
	assert.True(t, changed)
	require.Len(t, store.clearedRefspecs, 1)
	assert.Equal(t, oldRefspec, store.clearedRefspecs[0])
}

func TestApplyCleanupFailureIsNonFatal(t *testing.T) {
	store := newApplyTrackingStore([]int{0, 0})
	store.booted = &deployment.Deployment{
		OSName:   "eos",
		Checksum: newChecksum('a'),
		Origin:   deployment.Origin{Refspec: ref.Refspec{Remote: remoteName, RefName: "eos/amd64/latest"}},
	}

	applier := &Applier{Store: &cleanupFailingStore{applyTrackingStore: store}, OSName: "eos"}
	info := &UpdateInfo{
		Checksum:   newChecksum('b'),
		NewRefspec: ref.Refspec{Remote: remoteName, RefName: "eos/amd64/latest"},
		OldRefspec: ref.Refspec{Remote: remoteName, RefName: "eos/amd64/latest"},
	}

	_, err := applier.Apply(context.Background(), info)
	require.NoError(t, err)
}

type cleanupFailingStore struct {
	*applyTrackingStore
}

func (s *cleanupFailingStore) Cleanup(ctx context.Context) error {
	return errCleanupFailed
}

type cleanupError struct{}

func (*cleanupError) Error() string { return "cleanup failed" }

var errCleanupFailed = &cleanupError{}
