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

// Snapshot is a point-in-time copy of the §6 state-visibility contract: the
// dbusapi layer reads one of these per property-get rather than holding the
// Machine's lock across a D-Bus call.
type Snapshot struct {
	State   State
	Error   SnapshotError
	Current SnapshotCommit

	UpdateId            string
	UpdateRefspec        string
	UpdateIsUserVisible  bool
	OriginalRefspec      string
	Version              string
	ReleaseNotesUri      string
	UpdateLabel          string
	UpdateMessage        string
	DownloadSize         uint64
	UnpackedSize         uint64
	FullDownloadSize     uint64
	FullUnpackedSize     uint64
	DownloadedBytes      uint64
}

// SnapshotError is the §4.1 "entering Error records error_name, error_code,
// error_message" triple; all fields are zero when State != Error.
type SnapshotError struct {
	Name    string
	Code    int
	Message string
}

// SnapshotCommit is the booted commit's identity (CurrentId / the refspec it
// came from).
type SnapshotCommit struct {
	Id      string
	Refspec string
}

// Snapshot returns the current state-visibility contract values.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		State: m.state,
		Current: SnapshotCommit{
			Id:      m.currentChecksum,
			Refspec: m.currentRefspec.String(),
		},
		OriginalRefspec:  m.currentRefspec.String(),
		FullDownloadSize: m.fullDownloadSize,
		DownloadedBytes:  m.downloadedBytes,
	}
	if m.errInfo != nil {
		s.Error = SnapshotError{Name: m.errInfo.Name(), Code: m.errInfo.Code(), Message: m.errInfo.Message}
	}
	if m.info != nil {
		s.UpdateId = m.info.Checksum
		s.UpdateRefspec = m.info.NewRefspec.String()
		s.UpdateIsUserVisible = m.info.IsUserVisible
		s.Version = m.info.Version
		s.ReleaseNotesUri = m.info.ReleaseNotesURI
		if m.info.Commit != nil {
			s.UpdateLabel = m.info.Commit.Subject
			s.UpdateMessage = m.info.Commit.Body
			if sizes, err := m.info.Commit.Sizes(); err == nil {
				for _, sz := range sizes {
					s.DownloadSize += sz.Archived
					s.UnpackedSize += sz.Unpacked
					s.FullUnpackedSize += sz.Unpacked
				}
			}
		}
	}
	return s
}
