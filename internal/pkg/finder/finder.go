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

// Package finder implements the Source Finder of spec §4.3: a closed sum type
// of finders (Mirror | LAN | Volume | Override, per §9's "prefer a sum type
// over an open trait object ... the set is closed") that enumerate candidate
// remotes for a collection-ref.
package finder

import (
	"context"

	"github.com/coreos/pkg/capnslog"

	"github.com/coreos/eos-updater-core/internal/pkg/ref"
	"github.com/coreos/eos-updater-core/internal/pkg/uerrors"
)

var plog = capnslog.NewPackageLogger("github.com/coreos/eos-updater-core", "finder")

// Kind is the closed set of source kinds named in spec §4.3/§6.
type Kind int

const (
	Mirror Kind = iota
	LAN
	Volume
	Override
)

func (k Kind) String() string {
	switch k {
	case Mirror:
		return "main"
	case LAN:
		return "lan"
	case Volume:
		return "volume"
	case Override:
		return "override"
	default:
		return "unknown"
	}
}

// ParseKind parses a source name as it appears in the [Download] Order config key.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "main":
		return Mirror, true
	case "lan":
		return LAN, true
	case "volume":
		return Volume, true
	default:
		return 0, false
	}
}

// Result is one source's offer for the queried collection-refs (spec §3:
// FinderResult). Lower Priority is preferred.
type Result struct {
	Remote   string
	Priority int
	// Refs maps ref name -> checksum, for every collection-ref the finder
	// had an answer for.
	Refs map[string]string
	Kind Kind
}

// Finder enumerates candidate remotes for a set of collection-refs.
type Finder interface {
	Kind() Kind
	Find(ctx context.Context, collectionRefs []ref.CollectionRef) ([]Result, error)
}

// Set is an ordered list of finders to run, in priority order.
type Set struct {
	Finders []Finder
}

// FindAll runs every finder in the set and returns their combined results,
// sorted ascending by Priority. A finder that fails to initialize or run does
// not abort the others (§4.3: "If the LAN finder fails to initialize, drop it
// and continue... If all finders fail, return No sources").
func (s *Set) FindAll(ctx context.Context, collectionRefs []ref.CollectionRef) ([]Result, error) {
	if len(collectionRefs) == 0 {
		return nil, uerrors.New(uerrors.WrongConfiguration, "collection-refs must not be empty")
	}
	var all []Result
	anySucceeded := false
	for _, f := range s.Finders {
		res, err := f.Find(ctx, collectionRefs)
		if err != nil {
			plog.Warningf("finder %s failed: %v", f.Kind(), err)
			continue
		}
		anySucceeded = true
		all = append(all, res...)
	}
	if !anySucceeded {
		return nil, uerrors.New(uerrors.NotFound, "no sources")
	}
	sortByPriority(all)
	return all, nil
}

func sortByPriority(results []Result) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Priority < results[j-1].Priority; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

// HasOfflineOnly reports whether results contains no Mirror-kind entry (used
// to derive UpdateInfo.offline_results_only, §3).
func HasOfflineOnly(results []Result) bool {
	for _, r := range results {
		if r.Kind == Mirror {
			return false
		}
	}
	return true
}
