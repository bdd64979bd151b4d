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

package stage

import (
	"context"

	"github.com/coreos/eos-updater-core/internal/pkg/content"
	"github.com/coreos/eos-updater-core/internal/pkg/finder"
	"github.com/coreos/eos-updater-core/internal/pkg/ref"
	"github.com/coreos/eos-updater-core/internal/pkg/uerrors"
)

// Fetcher runs the Fetch stage (spec §4.5).
type Fetcher struct {
	Store content.Store
}

// Fetch pulls every object referenced by info's commit (and its supplemented
// branch-file extension refs) from the result set Poll produced, falling
// back from delta to full pull on a NotFound error (§4.5 step 2).
func (f *Fetcher) Fetch(ctx context.Context, info *UpdateInfo, progressBytes func(uint64)) error {
	collectionID, _ := f.Store.CollectionIDForRemote(info.NewRefspec.Remote)
	collectionRefs := append([]ref.CollectionRef{
		{CollectionID: collectionID, RefName: info.NewRefspec.RefName},
	}, info.ExtraCollectionRefs...)

	opts := content.PullOptions{
		CollectionRefs: collectionRefs,
		Remotes:        remotesOf(info.Results),
		ProgressBytes:  progressBytes,
	}

	err := f.Store.PullFromRemotes(ctx, opts)
	if err == nil {
		return nil
	}
	if uerrors.Of(err).Kind != uerrors.NotFound {
		return uerrors.Wrap(uerrors.Fetching, err, "fetching update")
	}

	plog.Infof("object missing from delta pull, retrying with static deltas disabled")
	opts.DisableStaticDeltas = true
	if err := f.Store.PullFromRemotes(ctx, opts); err != nil {
		return uerrors.Wrap(uerrors.Fetching, err, "fetching update without static deltas")
	}
	return nil
}

func remotesOf(results []finder.Result) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(results))
	for _, r := range results {
		if seen[r.Remote] {
			continue
		}
		seen[r.Remote] = true
		out = append(out, r.Remote)
	}
	return out
}
