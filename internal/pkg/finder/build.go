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

package finder

import (
	"github.com/coreos/eos-updater-core/internal/pkg/content"
)

// LANFinderFactory constructs the LAN finder, returning an error if mDNS
// initialization fails (spec §4.3: "If the LAN finder fails to initialize,
// drop it and continue"). Defined as a factory, rather than an eager value,
// so a failure to start the mDNS client doesn't abort building the rest of
// the set.
type LANFinderFactory func() (Finder, error)

// BuildOptions configures the Source Finder construction algorithm of §4.3.
type BuildOptions struct {
	// Order is the configured subset of {Mirror, LAN, Volume}, in priority order.
	Order []Kind
	// OverrideURIs, if non-empty, replaces Order with a single override finder.
	OverrideURIs []string

	Store        content.Store
	MirrorRemote string
	VolumePath   string
	NewLAN       LANFinderFactory
}

// Build constructs the finder Set per spec §4.3: override URIs take over the
// whole set when configured; otherwise one finder is instantiated per
// enabled order entry, each given a priority equal to its position in Order.
func Build(opts BuildOptions) *Set {
	if len(opts.OverrideURIs) > 0 {
		return &Set{Finders: []Finder{&OverrideFinder{Store: opts.Store, URIs: opts.OverrideURIs}}}
	}
	var finders []Finder
	for priority, kind := range opts.Order {
		switch kind {
		case Mirror:
			finders = append(finders, &MirrorFinder{Store: opts.Store, Remote: opts.MirrorRemote, Priority: priority})
		case Volume:
			finders = append(finders, &VolumeFinder{MountPath: opts.VolumePath, Priority: priority})
		case LAN:
			if opts.NewLAN == nil {
				continue
			}
			f, err := opts.NewLAN()
			if err != nil {
				plog.Warningf("LAN finder failed to initialize, dropping: %v", err)
				continue
			}
			finders = append(finders, f)
		}
	}
	return &Set{Finders: finders}
}
