package statemachine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreos/eos-updater-core/internal/pkg/content"
	"github.com/coreos/eos-updater-core/internal/pkg/deployment"
	"github.com/coreos/eos-updater-core/internal/pkg/ostreemeta"
	"github.com/coreos/eos-updater-core/internal/pkg/ref"
	"github.com/coreos/eos-updater-core/internal/pkg/stage"
	"github.com/coreos/eos-updater-core/internal/pkg/uerrors"
)

type fakeBootStore struct {
	content.Store
	booted *deployment.Deployment
}

func (s *fakeBootStore) BootedDeployment(ctx context.Context) (*deployment.Deployment, error) {
	return s.booted, nil
}

type fakePoller struct {
	info *stage.UpdateInfo
	err  error
}

func (p *fakePoller) Poll(ctx context.Context) (*stage.UpdateInfo, error) { return p.info, p.err }

type fakeFetcher struct {
	err error
}

func (f *fakeFetcher) Fetch(ctx context.Context, info *stage.UpdateInfo, progressBytes func(uint64)) error {
	if progressBytes != nil {
		progressBytes(100)
	}
	return f.err
}

type fakeApplier struct {
	changed bool
	err     error
}

func (a *fakeApplier) Apply(ctx context.Context, info *stage.UpdateInfo) (bool, error) {
	return a.changed, a.err
}

func newTestMachine(t *testing.T, poller Poller, fetcher Fetcher, applier Applier) (*Machine, *[]State) {
	t.Helper()
	var transitions []State
	m := New(&fakeBootStore{booted: &deployment.Deployment{
		Checksum: "c0",
		Origin:   deployment.Origin{Refspec: ref.Refspec{Remote: "REMOTE", RefName: "eos/amd64/latest"}},
	}}, poller, fetcher, applier, func(s State) { transitions = append(transitions, s) })
	require.NoError(t, m.Start(context.Background()))
	return m, &transitions
}

func TestStartTransitionsToReady(t *testing.T) {
	m, transitions := newTestMachine(t, nil, nil, nil)
	assert.Equal(t, Ready, m.Snapshot().State)
	assert.Equal(t, []State{Ready}, *transitions)
}

func TestPollNoUpdateReturnsToReady(t *testing.T) {
	m, _ := newTestMachine(t, &fakePoller{info: nil}, nil, nil)
	err := m.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Ready, m.Snapshot().State)
}

func TestPollUpdateAvailableTransition(t *testing.T) {
	info := &stage.UpdateInfo{Checksum: "c1", Version: "4.0", Commit: &ostreemeta.Commit{}}
	m, transitions := newTestMachine(t, &fakePoller{info: info}, nil, nil)
	require.NoError(t, m.Poll(context.Background()))
	snap := m.Snapshot()
	assert.Equal(t, UpdateAvailable, snap.State)
	assert.Equal(t, "c1", snap.UpdateId)
	assert.Equal(t, []State{Ready, Polling, UpdateAvailable}, *transitions)
}

func TestPollFailureEntersError(t *testing.T) {
	m, _ := newTestMachine(t, &fakePoller{err: uerrors.New(uerrors.Fetching, "boom")}, nil, nil)
	err := m.Poll(context.Background())
	require.Error(t, err)
	snap := m.Snapshot()
	assert.Equal(t, Error, snap.State)
	assert.Equal(t, "com.endlessm.Updater.Error.Fetching", snap.Error.Name)
}

func TestFetchFromWrongStateFails(t *testing.T) {
	m, _ := newTestMachine(t, nil, nil, nil)
	err := m.Fetch(context.Background())
	require.Error(t, err)
	assert.Equal(t, uerrors.WrongState, uerrors.Of(err).Kind)
}

func TestFullPollFetchApplyCycle(t *testing.T) {
	info := &stage.UpdateInfo{
		Checksum:   "c1",
		NewRefspec: ref.Refspec{Remote: "REMOTE", RefName: "eos/amd64/latest"},
		Commit:     &ostreemeta.Commit{},
	}
	m, transitions := newTestMachine(t, &fakePoller{info: info}, &fakeFetcher{}, &fakeApplier{changed: true})

	require.NoError(t, m.Poll(context.Background()))
	require.NoError(t, m.Fetch(context.Background()))
	assert.Equal(t, UpdateReady, m.Snapshot().State)

	require.NoError(t, m.Apply(context.Background()))
	snap := m.Snapshot()
	assert.Equal(t, UpdateApplied, snap.State)
	assert.Equal(t, "c1", snap.Current.Id)

	assert.Equal(t, []State{
		Ready, Polling, UpdateAvailable, Fetching, UpdateReady, Applying, UpdateApplied,
	}, *transitions)
}

func TestRetryAfterErrorClearsErrorFields(t *testing.T) {
	poller := &fakePoller{err: uerrors.New(uerrors.Fetching, "boom")}
	m, _ := newTestMachine(t, poller, nil, nil)
	require.Error(t, m.Poll(context.Background()))
	assert.Equal(t, Error, m.Snapshot().State)

	poller.err = nil
	poller.info = nil
	require.NoError(t, m.Poll(context.Background()))
	snap := m.Snapshot()
	assert.Equal(t, Ready, snap.State)
	assert.Empty(t, snap.Error.Name)
}

func TestCancelDuringPollReturnsToReady(t *testing.T) {
	m, _ := newTestMachine(t, &fakePoller{err: uerrors.Wrap(uerrors.Cancelled, context.Canceled, "cancelled")}, nil, nil)
	err := m.Poll(context.Background())
	require.Error(t, err)
	assert.Equal(t, Ready, m.Snapshot().State)
}

func TestDownloadedBytesClampsToFullDownloadSize(t *testing.T) {
	info := &stage.UpdateInfo{
		Checksum: "c1",
		Commit: &ostreemeta.Commit{
			Metadata: map[string]interface{}{
				"ostree.sizes": []interface{}{[]interface{}{float64(50), float64(200)}},
			},
		},
	}
	m, _ := newTestMachine(t, &fakePoller{info: info}, &fakeFetcher{}, nil)
	require.NoError(t, m.Poll(context.Background()))
	require.NoError(t, m.Fetch(context.Background()))
	snap := m.Snapshot()
	assert.Equal(t, uint64(50), snap.DownloadedBytes)
}
