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

package dbusapi

import (
	"github.com/godbus/dbus/v5/prop"

	"github.com/coreos/eos-updater-core/internal/pkg/statemachine"
)

// propNames lists the §6 state-visibility contract properties, in the order
// refreshProps writes them. Every entry here must have a case in
// valueFor and an initial entry in propSpec.
var propNames = []string{
	"State",
	"ErrorName",
	"ErrorCode",
	"ErrorMessage",
	"CurrentId",
	"UpdateId",
	"UpdateRefspec",
	"OriginalRefspec",
	"Version",
	"UpdateIsUserVisible",
	"ReleaseNotesUri",
	"UpdateLabel",
	"UpdateMessage",
	"DownloadSize",
	"UnpackedSize",
	"FullDownloadSize",
	"FullUnpackedSize",
	"DownloadedBytes",
}

// valueFor reads one property's current value out of a Snapshot.
func valueFor(name string, snap statemachine.Snapshot) interface{} {
	switch name {
	case "State":
		return snap.State.String()
	case "ErrorName":
		return snap.Error.Name
	case "ErrorCode":
		return int32(snap.Error.Code)
	case "ErrorMessage":
		return snap.Error.Message
	case "CurrentId":
		return snap.Current.Id
	case "UpdateId":
		return snap.UpdateId
	case "UpdateRefspec":
		return snap.UpdateRefspec
	case "OriginalRefspec":
		return snap.OriginalRefspec
	case "Version":
		return snap.Version
	case "UpdateIsUserVisible":
		return snap.UpdateIsUserVisible
	case "ReleaseNotesUri":
		return snap.ReleaseNotesUri
	case "UpdateLabel":
		return snap.UpdateLabel
	case "UpdateMessage":
		return snap.UpdateMessage
	case "DownloadSize":
		return snap.DownloadSize
	case "UnpackedSize":
		return snap.UnpackedSize
	case "FullDownloadSize":
		return snap.FullDownloadSize
	case "FullUnpackedSize":
		return snap.FullUnpackedSize
	case "DownloadedBytes":
		return snap.DownloadedBytes
	default:
		return nil
	}
}

// propSpec builds the initial prop.New table, seeded from snap. All
// properties are read-only from the bus side; they change only in response
// to a worker stage completing (see Service.OnStateChanged).
func propSpec(snap statemachine.Snapshot) map[string]map[string]*prop.Prop {
	iface := map[string]*prop.Prop{}
	for _, name := range propNames {
		iface[name] = &prop.Prop{
			Value:    valueFor(name, snap),
			Writable: false,
			Emit:     prop.EmitTrue,
		}
	}
	return map[string]map[string]*prop.Prop{InterfaceName: iface}
}

// refreshProps pushes every current value into the exported property table.
func (s *Service) refreshProps(snap statemachine.Snapshot) {
	for _, name := range propNames {
		s.props.SetMust(InterfaceName, name, valueFor(name, snap))
	}
}
