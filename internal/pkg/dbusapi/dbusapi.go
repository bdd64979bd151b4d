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

// Package dbusapi exposes the §6 "External Interfaces" state-visibility
// contract and the Poll/Fetch/Apply/PollVolume triggers over the session's
// single D-Bus endpoint. The teacher repo only ever dials dbus.SystemBus()
// as a client (kola/tests/coretest/dbus.go); the server-side object-export
// and property idiom here follows the github.com/godbus/dbus/v5 and
// github.com/godbus/dbus/v5/prop ecosystem convention instead (see
// DESIGN.md).
package dbusapi

import (
	"context"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"

	"github.com/coreos/pkg/capnslog"

	"github.com/coreos/eos-updater-core/internal/pkg/statemachine"
	"github.com/coreos/eos-updater-core/internal/pkg/uerrors"
)

var plog = capnslog.NewPackageLogger("github.com/coreos/eos-updater-core", "dbusapi")

const (
	// BusName is the well-known name the daemon requests on the system bus.
	BusName = "com.endlessm.Updater"
	// InterfaceName is the single interface exposing the state-visibility
	// contract, the Poll/Fetch/Apply/PollVolume triggers, and StateChanged.
	InterfaceName = "com.endlessm.Updater"
	// ObjectPath is the daemon's single endpoint (spec §6: "single endpoint").
	ObjectPath dbus.ObjectPath = "/com/endlessm/Updater"
)

// pollAllowed, fetchAllowed and applyAllowed mirror the unexported
// statemachine.pollSourceStates and the UpdateAvailable/UpdateReady
// single-state source sets used by Machine.Fetch/Apply. They are duplicated
// here (rather than exported from statemachine) so that a WrongState
// rejection can be returned synchronously to the D-Bus caller before the
// actual worker task is started on its own goroutine, per §5's "the State
// Machine enforces this by refusing overlapping requests with WrongState".
var (
	pollAllowed  = map[statemachine.State]bool{statemachine.Ready: true, statemachine.Error: true, statemachine.UpdateApplied: true}
	fetchAllowed = map[statemachine.State]bool{statemachine.UpdateAvailable: true}
	applyAllowed = map[statemachine.State]bool{statemachine.UpdateReady: true}
)

// Service exports a Machine over D-Bus. Its zero value is not usable;
// construct with New and finish setup with Attach once the Machine exists.
type Service struct {
	conn  *dbus.Conn
	props *prop.Properties

	machine         *statemachine.Machine
	newVolumePoller func(mountPath string) statemachine.Poller
}

// New wraps conn. newVolumePoller builds the one-off Poller PollVolume uses,
// scoped to a caller-supplied mount path (the daemon wires this to
// finder.VolumeFinder wrapped in a stage.Poller restricted to that finder).
func New(conn *dbus.Conn, newVolumePoller func(mountPath string) statemachine.Poller) *Service {
	return &Service{conn: conn, newVolumePoller: newVolumePoller}
}

// Attach finishes construction once the Machine is available, exports the
// object and its properties, and requests BusName. Call OnStateChanged as
// the Machine's onStateChanged hook (statemachine.New's last argument) so
// this is wired before Attach is called.
func (s *Service) Attach(m *statemachine.Machine) error {
	s.machine = m

	s.props = prop.New(s.conn, ObjectPath, propSpec(m.Snapshot()))

	if err := s.conn.Export(s, ObjectPath, InterfaceName); err != nil {
		return errorsWrapExport(err)
	}

	reply, err := s.conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return errorsWrapExport(err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return uerrors.New(uerrors.Failed, "bus name "+BusName+" already owned")
	}
	return nil
}

func errorsWrapExport(err error) error {
	return uerrors.Wrap(uerrors.Failed, err, "exporting dbus object")
}

// OnStateChanged refreshes the exported properties and emits StateChanged.
// It is registered as the Machine's onStateChanged hook.
func (s *Service) OnStateChanged(_ statemachine.State) {
	snap := s.machine.Snapshot()
	s.refreshProps(snap)
	if err := s.conn.Emit(ObjectPath, InterfaceName+".StateChanged", snap.State.String()); err != nil {
		plog.Warningf("emitting StateChanged: %v", err)
	}
}

// Poll is the §6 Poll() trigger.
func (s *Service) Poll() *dbus.Error {
	if cur := s.machine.Snapshot().State; !pollAllowed[cur] {
		return dbusError(uerrors.New(uerrors.WrongState, "cannot poll from "+cur.String()))
	}
	go s.run("poll", func(ctx context.Context) error { return s.machine.Poll(ctx) })
	return nil
}

// Fetch is the §6 Fetch() trigger.
func (s *Service) Fetch() *dbus.Error {
	if cur := s.machine.Snapshot().State; !fetchAllowed[cur] {
		return dbusError(uerrors.New(uerrors.WrongState, "cannot fetch from "+cur.String()))
	}
	go s.run("fetch", func(ctx context.Context) error { return s.machine.Fetch(ctx) })
	return nil
}

// Apply is the §6 Apply() trigger.
func (s *Service) Apply() *dbus.Error {
	if cur := s.machine.Snapshot().State; !applyAllowed[cur] {
		return dbusError(uerrors.New(uerrors.WrongState, "cannot apply from "+cur.String()))
	}
	go s.run("apply", func(ctx context.Context) error { return s.machine.Apply(ctx) })
	return nil
}

// PollVolume is the §6 PollVolume(path) trigger.
func (s *Service) PollVolume(mountPath string) *dbus.Error {
	if cur := s.machine.Snapshot().State; !pollAllowed[cur] {
		return dbusError(uerrors.New(uerrors.WrongState, "cannot poll from "+cur.String()))
	}
	poller := s.newVolumePoller(mountPath)
	go s.run("poll-volume", func(ctx context.Context) error { return s.machine.PollVolume(ctx, poller) })
	return nil
}

// run starts a worker stage in the background. Its result is observable only
// through the state-visibility contract (State/ErrorName/.../StateChanged);
// the D-Bus method call itself already returned once the stage started.
func (s *Service) run(label string, fn func(ctx context.Context) error) {
	if err := fn(context.Background()); err != nil && !uerrors.IsCancelled(err) {
		plog.Warningf("%s: %v", label, err)
	}
}

// Cancel is not part of the §6 contract but is exposed so an operator tool
// can interrupt a stuck worker stage without waiting out its I/O.
func (s *Service) Cancel() *dbus.Error {
	s.machine.Cancel()
	return nil
}

func dbusError(err error) *dbus.Error {
	e := uerrors.Of(err)
	return dbus.NewError(e.Name(), []interface{}{e.Message})
}
