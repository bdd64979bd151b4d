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

// Package stage implements the Poll/Fetch/Apply worker stages and the §4.8
// multi-source selection (spec §4.4-§4.6, §4.8).
package stage

import (
	"github.com/coreos/pkg/capnslog"

	"github.com/coreos/eos-updater-core/internal/pkg/finder"
	"github.com/coreos/eos-updater-core/internal/pkg/ostreemeta"
	"github.com/coreos/eos-updater-core/internal/pkg/ref"
)

var plog = capnslog.NewPackageLogger("github.com/coreos/eos-updater-core", "stage")

// UpdateInfo is produced by Poll and consumed by Fetch/Apply (spec §3). It
// is read-only from the point Poll produces it until the next Poll replaces
// it - the State Machine enforces that by holding the sole writable
// reference (spec §3 invariants, §5).
type UpdateInfo struct {
	Checksum           string
	Commit             *ostreemeta.Commit
	NewRefspec         ref.Refspec
	OldRefspec         ref.Refspec
	Version            string
	IsUserVisible      bool
	ReleaseNotesURI    string
	URLs               []string
	Results            []finder.Result
	OfflineResultsOnly bool

	// ExtraCollectionRefs carries the supplemented branch-file extensions
	// (SPEC_FULL.md #1) discovered alongside the main commit, so Fetch can
	// pull them too.
	ExtraCollectionRefs []ref.CollectionRef

	// SourceKind records which finder kind produced this UpdateInfo, for the
	// §4.8 multi-source selection among concurrently-produced UpdateInfos.
	SourceKind finder.Kind
}
