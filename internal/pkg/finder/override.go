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

// OverrideFinder replaces the whole configured finder set when OverrideUris
// is non-empty (spec §4.3, §6): each URI is registered as a transient remote
// and polled the same way the Mirror finder polls its configured remote.
type OverrideFinder struct {
	Store content.Store
	URIs  []string
}

func (f *OverrideFinder) Kind() Kind { return Override }

func (f *OverrideFinder) Find(ctx context.Context, collectionRefs []ref.CollectionRef) ([]Result, error) {
	if len(f.URIs) == 0 {
		return nil, uerrors.New(uerrors.WrongConfiguration, "override finder has no URIs configured")
	}
	var results []Result
	for priority, uri := range f.URIs {
		remote := "eos-override-" + uriSlug(priority)
		if err := f.Store.RegisterTransientRemote(ctx, remote, uri, ""); err != nil {
			continue
		}
		refs := map[string]string{}
		for _, cr := range collectionRefs {
			if err := f.Store.PullCommitMetadataOnly(ctx, remote, cr); err != nil {
				continue
			}
			checksum, err := f.Store.ResolveRef(ctx, ref.Refspec{Remote: remote, RefName: cr.RefName})
			if err != nil || checksum == "" {
				continue
			}
			refs[cr.RefName] = checksum
		}
		if len(refs) == 0 {
			continue
		}
		results = append(results, Result{Remote: remote, Priority: priority, Refs: refs, Kind: Override})
	}
	if len(results) == 0 {
		return nil, uerrors.New(uerrors.NotFound, "no override URI had an answer for the requested refs")
	}
	return results, nil
}

func uriSlug(i int) string {
	const digits = "0123456789"
	if i == 0 {
		return "0"
	}
	var b []byte
	for i > 0 {
		b = append([]byte{digits[i%10]}, b...)
		i /= 10
	}
	return string(b)
}
