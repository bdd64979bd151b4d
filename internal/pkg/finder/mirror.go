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
	"context"

	"github.com/coreos/eos-updater-core/internal/pkg/content"
	"github.com/coreos/eos-updater-core/internal/pkg/ref"
	"github.com/coreos/eos-updater-core/internal/pkg/uerrors"
)

// MirrorFinder asks the content store to resolve each collection-ref against
// a single configured internet-mirror remote (spec §4.3, "internet mirror").
type MirrorFinder struct {
	Store    content.Store
	Remote   string
	Priority int
}

func (f *MirrorFinder) Kind() Kind { return Mirror }

func (f *MirrorFinder) Find(ctx context.Context, collectionRefs []ref.CollectionRef) ([]Result, error) {
	if f.Remote == "" {
		return nil, uerrors.New(uerrors.WrongConfiguration, "mirror finder has no remote configured")
	}
	refs := map[string]string{}
	for _, cr := range collectionRefs {
		if err := f.Store.PullCommitMetadataOnly(ctx, f.Remote, cr); err != nil {
			continue
		}
		checksum, err := f.Store.ResolveRef(ctx, ref.Refspec{Remote: f.Remote, RefName: cr.RefName})
		if err != nil || checksum == "" {
			continue
		}
		refs[cr.RefName] = checksum
	}
	if len(refs) == 0 {
		return nil, uerrors.New(uerrors.NotFound, "mirror "+f.Remote+" has no answer for the requested refs")
	}
	return []Result{{Remote: f.Remote, Priority: f.Priority, Refs: refs, Kind: Mirror}}, nil
}
