package stage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreos/eos-updater-core/internal/pkg/content"
	"github.com/coreos/eos-updater-core/internal/pkg/deployment"
	"github.com/coreos/eos-updater-core/internal/pkg/finder"
	"github.com/coreos/eos-updater-core/internal/pkg/ostreemeta"
	"github.com/coreos/eos-updater-core/internal/pkg/ref"
	"github.com/coreos/eos-updater-core/internal/pkg/refspec"
)

// fakeStore is a minimal in-memory content.Store for stage tests.
type fakeStore struct {
	booted       *deployment.Deployment
	commits      map[string]*ostreemeta.Commit
	refToCksum   map[string]string // "remote:ref" -> checksum
	collectionID map[string]string // remote -> collection id
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		commits:      map[string]*ostreemeta.Commit{},
		refToCksum:   map[string]string{},
		collectionID: map[string]string{},
	}
}

func (s *fakeStore) BootedDeployment(ctx context.Context) (*deployment.Deployment, error) {
	return s.booted, nil
}
func (s *fakeStore) LoadCommit(ctx context.Context, checksum string) (*ostreemeta.Commit, error) {
	return s.commits[checksum], nil
}
func (s *fakeStore) ResolveRef(ctx context.Context, rs ref.Refspec) (string, error) {
	return s.refToCksum[rs.String()], nil
}
func (s *fakeStore) KnownRemote(remote string) bool { _, ok := s.collectionID[remote]; return ok }
func (s *fakeStore) CollectionIDForRemote(remote string) (string, bool) {
	id, ok := s.collectionID[remote]
	return id, ok
}
func (s *fakeStore) RegisterTransientRemote(ctx context.Context, name, url, collectionID string) error {
	return nil
}
func (s *fakeStore) PullCommitMetadataOnly(ctx context.Context, remote string, cr ref.CollectionRef) error {
	return nil
}
func (s *fakeStore) PullFromRemotes(ctx context.Context, opts content.PullOptions) error { return nil }
func (s *fakeStore) LockSysroot(ctx context.Context) (func(), error)                     { return func() {}, nil }
func (s *fakeStore) ReloadSysroot(ctx context.Context) error                             { return nil }
func (s *fakeStore) BootVersion(ctx context.Context) (int, error)                        { return 0, nil }
func (s *fakeStore) ClearRefspecLocally(ctx context.Context, rs ref.Refspec) error        { return nil }
func (s *fakeStore) DeployTree(ctx context.Context, osname, checksum string, origin deployment.Origin, booted *deployment.Deployment) (*deployment.Deployment, error) {
	return &deployment.Deployment{OSName: osname, Checksum: checksum, Origin: origin}, nil
}
func (s *fakeStore) SimpleWriteDeployment(ctx context.Context, osname string, newDep *deployment.Deployment, flags content.WriteDeploymentFlags) error {
	return nil
}
func (s *fakeStore) Cleanup(ctx context.Context) error { return nil }
func (s *fakeStore) CheckedOutPath(ctx context.Context, checksum string) (string, error) {
	return "", ostreeNotCheckedOutErr{}
}
func (s *fakeStore) StageOntoVolume(ctx context.Context, mountPath, checksum string, cr ref.CollectionRef) error {
	return nil
}

type ostreeNotCheckedOutErr struct{}

func (ostreeNotCheckedOutErr) Error() string { return "not checked out" }

// fakeFinder returns a fixed set of results for one ref, ignoring any miss.
type fakeFinder struct {
	kind    finder.Kind
	results []finder.Result
}

func (f *fakeFinder) Kind() finder.Kind { return f.kind }
func (f *fakeFinder) Find(ctx context.Context, crs []ref.CollectionRef) ([]finder.Result, error) {
	return f.results, nil
}

const remoteName = "REMOTE"
const collectionID = "com.example.Os"

func setupBooted(t *testing.T, refName, version string, timestamp int64) (*fakeStore, string) {
	t.Helper()
	store := newFakeStore()
	store.collectionID[remoteName] = collectionID
	bootedChecksum := newChecksum('a')
	store.booted = &deployment.Deployment{
		OSName:   "eos",
		Checksum: bootedChecksum,
		Origin:   deployment.Origin{Refspec: ref.Refspec{Remote: remoteName, RefName: refName}},
	}
	store.commits[bootedChecksum] = &ostreemeta.Commit{
		Checksum:  bootedChecksum,
		Metadata:  map[string]interface{}{"version": version},
		Timestamp: timestamp,
	}
	return store, bootedChecksum
}

func newChecksum(b byte) string {
	cs := make([]byte, 64)
	for i := range cs {
		cs[i] = "0123456789abcdef"[int(b)%16]
	}
	return string(cs)
}

// Scenario 1 (spec §8): same-ref newer commit -> update, not user-visible.
func TestPollScenario1SimpleUpdate(t *testing.T) {
	store, _ := setupBooted(t, "eos/amd64/latest", "3.0", 100)
	newChecksumB := newChecksum('b')
	store.commits[newChecksumB] = &ostreemeta.Commit{
		Checksum: newChecksumB, Metadata: map[string]interface{}{"version": "3.1"}, Timestamp: 200,
	}
	store.refToCksum[remoteName+":eos/amd64/latest"] = newChecksumB

	poller := &Poller{
		Store:    store,
		Resolver: &refspec.Resolver{Store: store, SysrootPath: t.TempDir()},
		Finders: &finder.Set{Finders: []finder.Finder{&fakeFinder{kind: finder.Mirror, results: []finder.Result{
			{Remote: remoteName, Priority: 0, Kind: finder.Mirror, Refs: map[string]string{"eos/amd64/latest": newChecksumB}},
		}}}},
	}

	info, err := poller.Poll(context.Background())
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, newChecksumB, info.Checksum)
	assert.False(t, info.IsUserVisible)
	assert.Equal(t, "eos/amd64/latest", info.NewRefspec.RefName)
}

// Scenario 2 (spec §8): major version bump -> user-visible.
func TestPollScenario2UserVisible(t *testing.T) {
	store, _ := setupBooted(t, "eos/amd64/latest", "3.0", 100)
	newChecksumB := newChecksum('c')
	store.commits[newChecksumB] = &ostreemeta.Commit{
		Checksum: newChecksumB, Metadata: map[string]interface{}{"version": "4.0"}, Timestamp: 200,
	}
	store.refToCksum[remoteName+":eos/amd64/latest"] = newChecksumB

	poller := &Poller{
		Store:    store,
		Resolver: &refspec.Resolver{Store: store, SysrootPath: t.TempDir()},
		Finders: &finder.Set{Finders: []finder.Finder{&fakeFinder{kind: finder.Mirror, results: []finder.Result{
			{Remote: remoteName, Priority: 0, Kind: finder.Mirror, Refs: map[string]string{"eos/amd64/latest": newChecksumB}},
		}}}},
	}

	info, err := poller.Poll(context.Background())
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.True(t, info.IsUserVisible)
}

// §8 invariant: a commit no newer than the booted one on the same ref yields None.
func TestPollNotNewerReturnsNone(t *testing.T) {
	store, bootedChecksum := setupBooted(t, "eos/amd64/latest", "3.0", 100)
	store.refToCksum[remoteName+":eos/amd64/latest"] = bootedChecksum

	poller := &Poller{
		Store:    store,
		Resolver: &refspec.Resolver{Store: store, SysrootPath: t.TempDir()},
		Finders: &finder.Set{Finders: []finder.Finder{&fakeFinder{kind: finder.Mirror, results: []finder.Result{
			{Remote: remoteName, Priority: 0, Kind: finder.Mirror, Refs: map[string]string{"eos/amd64/latest": bootedChecksum}},
		}}}},
	}

	info, err := poller.Poll(context.Background())
	require.NoError(t, err)
	assert.Nil(t, info)
}

// Scenario 3 (spec §8): redirect followed once, to an older-timestamp head,
// still reported as newer because the ref changed.
func TestPollScenario3RedirectFollowed(t *testing.T) {
	store, bootedChecksum := setupBooted(t, "eos/x/foo", "3.0", 500)
	redirectChecksum := newChecksum('d')
	store.commits[redirectChecksum] = &ostreemeta.Commit{
		Checksum: redirectChecksum,
		Metadata: map[string]interface{}{"ostree.endoflife-rebase": "eos/x/bar"},
		Timestamp: 500,
	}
	barHeadChecksum := newChecksum('e')
	store.commits[barHeadChecksum] = &ostreemeta.Commit{
		Checksum: barHeadChecksum, Metadata: map[string]interface{}{"version": "3.0"}, Timestamp: 100,
	}
	store.refToCksum[remoteName+":eos/x/foo"] = redirectChecksum
	store.refToCksum[remoteName+":eos/x/bar"] = barHeadChecksum
	_ = bootedChecksum

	poller := &Poller{
		Store:    store,
		Resolver: &refspec.Resolver{Store: store, SysrootPath: t.TempDir()},
		Finders: &finder.Set{Finders: []finder.Finder{&fakeFinder{kind: finder.Mirror, results: []finder.Result{
			{Remote: remoteName, Priority: 0, Kind: finder.Mirror, Refs: map[string]string{"eos/x/foo": redirectChecksum, "eos/x/bar": barHeadChecksum}},
		}}}},
	}

	info, err := poller.Poll(context.Background())
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, barHeadChecksum, info.Checksum)
	assert.Contains(t, info.NewRefspec.RefName, "bar")
}
