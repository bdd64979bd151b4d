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

	"github.com/coreos/eos-updater-core/internal/pkg/branchfile"
	"github.com/coreos/eos-updater-core/internal/pkg/content"
	"github.com/coreos/eos-updater-core/internal/pkg/finder"
	"github.com/coreos/eos-updater-core/internal/pkg/ostreemeta"
	"github.com/coreos/eos-updater-core/internal/pkg/ref"
	"github.com/coreos/eos-updater-core/internal/pkg/refspec"
	"github.com/coreos/eos-updater-core/internal/pkg/uerrors"
)

// maxRedirectHops bounds the redirect loop of §4.4 step 3 ("at most once per
// redirect" - one hop is the documented behavior; this guards against a
// misconfigured chain looping indefinitely).
const maxRedirectHops = 1

// Poller runs the Poll stage (spec §4.4).
type Poller struct {
	Store    content.Store
	Resolver *refspec.Resolver
	Finders  *finder.Set
}

// Poll implements §4.4's algorithm. A nil UpdateInfo with a nil error means
// "no update" (the None outcome); the State Machine maps that to the
// Polling -> Ready transition.
func (p *Poller) Poll(ctx context.Context) (*UpdateInfo, error) {
	booted, err := p.Store.BootedDeployment(ctx)
	if err != nil {
		return nil, uerrors.Wrap(uerrors.NotOstreeSystem, err, "loading booted deployment")
	}

	upgradeRefspec, err := p.Resolver.Resolve(ctx, booted)
	if err != nil {
		return nil, err
	}

	collectionID, ok := p.Store.CollectionIDForRemote(upgradeRefspec.Remote)
	if !ok {
		return nil, uerrors.New(uerrors.NotSupported, "no collection id configured for remote "+upgradeRefspec.Remote)
	}

	var (
		results  []finder.Result
		checksum string
		commit   *ostreemeta.Commit
	)
	refName := upgradeRefspec.RefName
	for hop := 0; ; hop++ {
		select {
		case <-ctx.Done():
			return nil, uerrors.Wrap(uerrors.Cancelled, ctx.Err(), "poll cancelled")
		default:
		}

		collectionRef := ref.CollectionRef{CollectionID: collectionID, RefName: refName}
		results, err = p.Finders.FindAll(ctx, []ref.CollectionRef{collectionRef})
		if err != nil {
			if uerrors.Of(err).Kind == uerrors.NotFound {
				return nil, nil // §4.3/§4.4: "If results empty -> return None"
			}
			return nil, err
		}

		remote := firstRemote(results)
		if err := p.Store.PullCommitMetadataOnly(ctx, remote, collectionRef); err != nil {
			return nil, uerrors.Wrap(uerrors.Failed, err, "pulling commit metadata")
		}

		checksum, err = p.Store.ResolveRef(ctx, ref.Refspec{Remote: remote, RefName: refName})
		if err != nil {
			return nil, err
		}
		if checksum == "" {
			return nil, uerrors.New(uerrors.NotOstreeSystem, "could not resolve "+refName+" to a checksum")
		}
		commit, err = p.Store.LoadCommit(ctx, checksum)
		if err != nil {
			return nil, err
		}
		if commit == nil {
			return nil, uerrors.New(uerrors.NotOstreeSystem, "commit "+checksum+" not resolvable after pull")
		}

		if redirectRef, ok := commit.EndOfLifeRebase(); ok && redirectRef != refName {
			if hop >= maxRedirectHops {
				plog.Warningf("redirect chain too long, stopping at %s", refName)
				break
			}
			plog.Infof("following ostree.endoflife-rebase redirect from %s to %s", refName, redirectRef)
			refName = redirectRef
			continue
		}
		break
	}

	newRefspec := ref.Refspec{Remote: upgradeRefspec.Remote, RefName: refName}

	bootedCommit, err := p.Store.LoadCommit(ctx, booted.Checksum)
	if err != nil {
		return nil, err
	}

	isUserVisible := false
	if bootedCommit == nil {
		// §4.4 step 4: "If missing locally: return the new commit as an
		// update with is_user_visible=false."
	} else {
		isNewer := newRefspec.RefName != booted.Origin.Refspec.RefName || commit.Timestamp > bootedCommit.Timestamp
		if !isNewer {
			return nil, nil
		}
		curVersion, _ := bootedCommit.Version()
		newVersion, _ := commit.Version()
		isUserVisible = ostreemeta.IsUserVisible(curVersion, newVersion)
	}

	version, _ := commit.Version()
	releaseNotesURI, _ := commit.ReleaseNotesURI()

	var extraRefs []ref.CollectionRef
	if checkoutPath, err := p.Store.CheckedOutPath(ctx, checksum); err == nil {
		if extras, err := branchfile.Load(checkoutPath); err == nil {
			extraRefs = extras
		}
	}

	return &UpdateInfo{
		Checksum:            checksum,
		Commit:              commit,
		NewRefspec:          newRefspec,
		OldRefspec:          booted.Origin.Refspec,
		Version:             version,
		IsUserVisible:       isUserVisible,
		ReleaseNotesURI:     releaseNotesURI,
		URLs:                urlsFromResults(results),
		Results:             results,
		OfflineResultsOnly:  finder.HasOfflineOnly(results),
		ExtraCollectionRefs: extraRefs,
		SourceKind:          resultsKind(results),
	}, nil
}

func firstRemote(results []finder.Result) string {
	if len(results) == 0 {
		return ""
	}
	return results[0].Remote
}

func resultsKind(results []finder.Result) finder.Kind {
	if len(results) == 0 {
		return finder.Mirror
	}
	return results[0].Kind
}

func urlsFromResults(results []finder.Result) []string {
	urls := make([]string, 0, len(results))
	for _, r := range results {
		urls = append(urls, r.Remote)
	}
	return urls
}
