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

// Package flatpak implements the Flatpak Reconciler of spec §4.7: autoinstall
// JSON parsing, layered-directory merge, per-ref squash, progress filtering,
// flatten and dependency augmentation. Grounded on
// original_source/libeos-updater-util/flatpak-util.c, ported from GVariant
// hash-table/ptr-array plumbing to plain Go value semantics.
package flatpak

import "fmt"

// RefKind is the flatpak ref kind (spec §3).
type RefKind int

const (
	App RefKind = iota
	Runtime
)

func (k RefKind) String() string {
	if k == Runtime {
		return "runtime"
	}
	return "app"
}

// Ref is a FlatpakRef (spec §3): equality ignores remote/collection.
type Ref struct {
	Kind   RefKind
	Name   string
	Arch   string
	Branch string
}

// String formats the ref as "<kind>/<name>/<arch>/<branch>".
func (r Ref) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", r.Kind, r.Name, r.Arch, r.Branch)
}

// Equal compares two Refs by value (kind, name, arch, branch).
func (r Ref) Equal(o Ref) bool {
	return r.Kind == o.Kind && r.Name == o.Name && r.Arch == o.Arch && r.Branch == o.Branch
}

// LocationRef is (ref, remote?, collection_id?) (spec §3). Remote and
// CollectionID are unset ("") for uninstall/update actions where the source
// is implicit.
type LocationRef struct {
	Ref          Ref
	Remote       string
	CollectionID string
}

// ActionKind is the flatpak action kind (spec §3).
type ActionKind int

const (
	Install ActionKind = iota
	Uninstall
	Update
)

func (k ActionKind) String() string {
	switch k {
	case Install:
		return "install"
	case Uninstall:
		return "uninstall"
	case Update:
		return "update"
	default:
		return "unknown"
	}
}

// Flags is a bitset of Action flags (spec §3).
type Flags uint32

// IsDependency marks an Action synthesized by dependency augmentation (§4.7.9)
// rather than present in the source autoinstall file.
const IsDependency Flags = 1 << 0

func (f Flags) IsDependency() bool { return f&IsDependency != 0 }

// Action is one entry of an autoinstall file, post-parse (spec §3).
type Action struct {
	Kind       ActionKind
	Ref        LocationRef
	SourceFile string
	Serial     int32
	Flags      Flags
}

// AutoinstallFile is one parsed, sorted *.json file (spec §3).
type AutoinstallFile struct {
	Filename string
	Priority int
	Actions  []Action
}

// Progress is the persisted filename -> last_applied_serial watermark
// (spec §3), read by the reconciler as an immutable snapshot (§5).
type Progress map[string]int32

// Last returns the progress watermark for filename, or (0, false) if unset -
// per §4.7.7 an unset filename means "keep all" in filter_new.
func (p Progress) Last(filename string) (int32, bool) {
	v, ok := p[filename]
	return v, ok
}

// SkippedAction records an entry dropped for a recoverable reason (an
// unsupported action value, an unknown filter key) on the §7
// UnknownEntryInAutoinstallSpec side channel.
type SkippedAction struct {
	Filename string
	Serial   int32
	Reason   string
}
