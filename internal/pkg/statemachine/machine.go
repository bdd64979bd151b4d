// Copyright 2016 CoreOS, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package statemachine

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/coreos/eos-updater-core/internal/pkg/content"
	"github.com/coreos/eos-updater-core/internal/pkg/ostreemeta"
	"github.com/coreos/eos-updater-core/internal/pkg/ref"
	"github.com/coreos/eos-updater-core/internal/pkg/stage"
	"github.com/coreos/eos-updater-core/internal/pkg/uerrors"
)

// Poller, Fetcher and Applier are the stage.* shapes the Machine drives. They
// are declared here as narrow interfaces (rather than depending on the
// concrete stage types directly) so tests can supply fakes without
// constructing a full content.Store.
type Poller interface {
	Poll(ctx context.Context) (*stage.UpdateInfo, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, info *stage.UpdateInfo, progressBytes func(uint64)) error
}

type Applier interface {
	Apply(ctx context.Context, info *stage.UpdateInfo) (bootversionChanged bool, err error)
}

// Machine is the §4.1 State Machine. Its zero value is not usable; construct
// with New. All exported methods are safe for concurrent use; the single-
// writer discipline of §5 is enforced internally by mu plus the current
// cancel function, not by requiring the caller to serialize calls.
type Machine struct {
	store   content.Store
	poller  Poller
	fetcher Fetcher
	applier Applier

	onStateChanged func(State)

	mu      sync.Mutex
	state   State
	errInfo *uerrors.Error
	info    *stage.UpdateInfo

	currentChecksum string
	currentRefspec  ref.Refspec

	downloadedBytes  uint64
	fullDownloadSize uint64

	cancel context.CancelFunc
}

// New constructs a Machine in state None. onStateChanged, if non-nil, is
// called (outside the lock) after every state transition - the hook the
// dbusapi layer uses to emit StateChanged.
func New(store content.Store, poller Poller, fetcher Fetcher, applier Applier, onStateChanged func(State)) *Machine {
	return &Machine{
		store:          store,
		poller:         poller,
		fetcher:        fetcher,
		applier:        applier,
		onStateChanged: onStateChanged,
		state:          None,
	}
}

// Start performs the None -> Ready transition once the content store is open
// (spec §4.1). It also seeds CurrentId/OriginalRefspec from the booted
// deployment so Snapshot has something to report before the first Poll.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != None {
		m.mu.Unlock()
		return uerrors.New(uerrors.WrongState, "Start called outside the None state")
	}
	m.mu.Unlock()

	booted, err := m.store.BootedDeployment(ctx)
	if err != nil {
		return uerrors.Wrap(uerrors.NotOstreeSystem, err, "loading booted deployment")
	}

	m.mu.Lock()
	m.currentChecksum = booted.Checksum
	m.currentRefspec = booted.Origin.Refspec
	m.state = Ready
	m.mu.Unlock()
	m.notify(Ready)
	return nil
}

// pollSourceStates are the states from which Poll (and PollVolume) may be
// requested. Ready is the documented arrow; Error and UpdateApplied are
// included per the "Error, * -> Polling (retry resets error)" transition,
// read as "any stable state may restart the poll/fetch/apply cycle" (see
// DESIGN.md's Open Question decision for this package).
var pollSourceStates = map[State]bool{Ready: true, Error: true, UpdateApplied: true}

// Poll drives the Ready/Error/UpdateApplied -> Polling -> {Ready,
// UpdateAvailable, Error} transition (spec §4.1, §4.4).
func (m *Machine) Poll(ctx context.Context) error {
	return m.pollWith(ctx, m.poller)
}

// PollVolume is the §6 PollVolume(path) trigger: it runs the same transition
// as Poll but against a one-off Poller restricted to the Volume finder,
// passed in by the caller (the daemon wires this up using
// internal/pkg/finder.VolumeFinder against mountPath).
func (m *Machine) PollVolume(ctx context.Context, volumePoller Poller) error {
	return m.pollWith(ctx, volumePoller)
}

func (m *Machine) pollWith(ctx context.Context, poller Poller) error {
	runID, ctx, err := m.begin(ctx, pollSourceStates, Polling)
	if err != nil {
		return err
	}
	plog.Infof("poll run %s starting", runID)

	info, err := poller.Poll(ctx)
	if err != nil {
		if uerrors.IsCancelled(err) {
			m.endToStable(Ready)
			return err
		}
		m.enterError(err)
		return err
	}
	if info == nil {
		m.endToStable(Ready)
		return nil
	}

	m.mu.Lock()
	m.info = info
	m.fullDownloadSize = totalArchivedSize(info.Commit)
	m.downloadedBytes = 0
	m.state = UpdateAvailable
	m.mu.Unlock()
	m.notify(UpdateAvailable)
	return nil
}

// Fetch drives the UpdateAvailable -> Fetching -> {UpdateReady, Error}
// transition (spec §4.1, §4.5).
func (m *Machine) Fetch(ctx context.Context) error {
	runID, ctx, err := m.begin(ctx, map[State]bool{UpdateAvailable: true}, Fetching)
	if err != nil {
		return err
	}
	plog.Infof("fetch run %s starting", runID)

	m.mu.Lock()
	info := m.info
	m.mu.Unlock()

	err = m.fetcher.Fetch(ctx, info, m.recordProgress)
	if err != nil {
		if uerrors.IsCancelled(err) {
			m.endToStable(UpdateAvailable)
			return err
		}
		m.enterError(err)
		return err
	}
	m.endToStable(UpdateReady)
	return nil
}

// Apply drives the UpdateReady -> Applying -> {UpdateApplied, Error}
// transition (spec §4.1, §4.6).
func (m *Machine) Apply(ctx context.Context) error {
	runID, ctx, err := m.begin(ctx, map[State]bool{UpdateReady: true}, Applying)
	if err != nil {
		return err
	}
	plog.Infof("apply run %s starting", runID)

	m.mu.Lock()
	info := m.info
	m.mu.Unlock()

	_, err = m.applier.Apply(ctx, info)
	if err != nil {
		if uerrors.IsCancelled(err) {
			m.endToStable(UpdateReady)
			return err
		}
		m.enterError(err)
		return err
	}

	m.mu.Lock()
	m.currentChecksum = info.Checksum
	m.currentRefspec = info.NewRefspec
	m.state = UpdateApplied
	m.mu.Unlock()
	m.notify(UpdateApplied)
	return nil
}

// Cancel requests cancellation of whatever worker task is currently running.
// It is a no-op if no task is running.
func (m *Machine) Cancel() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// begin validates the current state is in allowed, transitions to next,
// clearing error fields if leaving Error (§4.1: "Leaving Error clears those
// fields before emitting the new state"), and installs a fresh cancellation
// token. It returns the run id and a context carrying that token.
func (m *Machine) begin(callerCtx context.Context, allowed map[State]bool, next State) (string, context.Context, error) {
	m.mu.Lock()
	if !allowed[m.state] {
		cur := m.state
		m.mu.Unlock()
		return "", nil, uerrors.New(uerrors.WrongState, "cannot transition from "+cur.String())
	}
	m.errInfo = nil
	m.state = next
	runID := uuid.NewString()
	ctx, cancel := context.WithCancel(callerCtx)
	m.cancel = cancel
	m.mu.Unlock()
	m.notify(next)
	return runID, ctx, nil
}

// endToStable finishes a worker task by transitioning to a terminal stable
// state (used both for the documented success transitions and for the §5
// cancellation rule "a cancelled stage transitions to the prior stable
// state, not Error").
func (m *Machine) endToStable(next State) {
	m.mu.Lock()
	m.cancel = nil
	m.state = next
	m.mu.Unlock()
	m.notify(next)
}

func (m *Machine) enterError(err error) {
	e := uerrors.Of(err)
	m.mu.Lock()
	m.cancel = nil
	m.errInfo = e
	m.state = Error
	m.mu.Unlock()
	plog.Errorf("entering Error state: %s: %s", e.Name(), e.Message)
	m.notify(Error)
}

func (m *Machine) recordProgress(downloaded uint64) {
	m.mu.Lock()
	if downloaded > m.downloadedBytes {
		m.downloadedBytes = downloaded
	}
	if m.fullDownloadSize > 0 && m.downloadedBytes > m.fullDownloadSize {
		m.downloadedBytes = m.fullDownloadSize
	}
	m.mu.Unlock()
}

func (m *Machine) notify(s State) {
	if m.onStateChanged != nil {
		m.onStateChanged(s)
	}
}

func totalArchivedSize(commit *ostreemeta.Commit) uint64 {
	sizes, err := commit.Sizes()
	if err != nil {
		return 0
	}
	var total uint64
	for _, sz := range sizes {
		total += sz.Archived
	}
	return total
}
