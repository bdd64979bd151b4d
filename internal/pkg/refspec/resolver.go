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

package refspec

import (
	"context"

	"github.com/coreos/eos-updater-core/internal/pkg/content"
	"github.com/coreos/eos-updater-core/internal/pkg/deployment"
	"github.com/coreos/eos-updater-core/internal/pkg/ref"
)

// Resolver derives the upgrade refspec for the booted deployment (spec §4.2).
type Resolver struct {
	Store       content.Store
	SysrootPath string
	Gate        Gate // nil defaults to ShouldFollowCheckpoint
}

func (r *Resolver) gate() Gate {
	if r.Gate != nil {
		return r.Gate
	}
	return ShouldFollowCheckpoint
}

// Resolve implements §4.2's algorithm:
//  1. Load the commit for the booted checksum; if absent locally, assume no
//     checkpoint and return the booted refspec unchanged.
//  2. If the commit has checkpoint-target metadata, parse it (dropping any
//     remote component with a warning - a checkpoint always stays on the
//     same remote), apply the checkpoint gate, and follow it unless refused.
//  3. Otherwise return the booted refspec.
func (r *Resolver) Resolve(ctx context.Context, booted *deployment.Deployment) (ref.Refspec, error) {
	bootedRefspec := booted.Origin.Refspec

	commit, err := r.Store.LoadCommit(ctx, booted.Checksum)
	if err != nil {
		return ref.Refspec{}, err
	}
	if commit == nil {
		return bootedRefspec, nil
	}

	targetRaw, ok := commit.CheckpointTarget()
	if !ok {
		return bootedRefspec, nil
	}

	target, err := ref.ParseRefspec(targetRaw)
	if err != nil {
		plog.Warningf("checkpoint-target %q is malformed, ignoring: %v", targetRaw, err)
		return bootedRefspec, nil
	}
	if target.Remote != "" {
		plog.Warningf("checkpoint-target %q names a remote; a checkpoint always stays on the booted remote, dropping it", targetRaw)
	}

	follow, reason := r.gate()(r.SysrootPath, bootedRefspec.RefName, target.RefName)
	if !follow {
		plog.Infof("not following checkpoint to %q: %s", target.RefName, reason)
		return bootedRefspec, nil
	}

	return ref.Refspec{Remote: bootedRefspec.Remote, RefName: target.RefName}, nil
}
