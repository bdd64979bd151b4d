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
	"github.com/coreos/eos-updater-core/internal/pkg/deployment"
	"github.com/coreos/eos-updater-core/internal/pkg/uerrors"
)

// Applier runs the Apply stage (spec §4.6).
type Applier struct {
	Store  content.Store
	OSName string
}

// Apply stages a new deployment for info's commit, reports whether the
// bootversion changed, and cleans up old deployments (non-fatal on error).
func (a *Applier) Apply(ctx context.Context, info *UpdateInfo) (bootversionChanged bool, err error) {
	unlock, err := a.Store.LockSysroot(ctx)
	if err != nil {
		return false, uerrors.Wrap(uerrors.Failed, err, "locking sysroot")
	}
	defer unlock()

	if err := a.Store.ReloadSysroot(ctx); err != nil {
		return false, uerrors.Wrap(uerrors.Failed, err, "reloading sysroot")
	}

	bootversion, err := a.Store.BootVersion(ctx)
	if err != nil {
		return false, uerrors.Wrap(uerrors.Failed, err, "reading bootversion")
	}

	booted, err := a.Store.BootedDeployment(ctx)
	if err != nil {
		return false, uerrors.Wrap(uerrors.NotOstreeSystem, err, "loading booted deployment")
	}

	origin := deployment.Origin{Refspec: info.NewRefspec}
	newDep, err := a.Store.DeployTree(ctx, a.OSName, info.Checksum, origin, booted)
	if err != nil {
		return false, uerrors.Wrap(uerrors.Failed, err, "deploying tree")
	}

	if !info.NewRefspec.Equal(info.OldRefspec) {
		if oldChecksum, err := a.Store.ResolveRef(ctx, info.OldRefspec); err == nil && oldChecksum != "" {
			if err := a.Store.ClearRefspecLocally(ctx, info.OldRefspec); err != nil {
				return false, uerrors.Wrap(uerrors.Failed, err, "clearing old refspec")
			}
		}
	}

	if err := a.Store.SimpleWriteDeployment(ctx, a.OSName, newDep, content.WriteDeploymentFlags{NoClean: true}); err != nil {
		return false, uerrors.Wrap(uerrors.Failed, err, "staging new deployment")
	}

	// §4.6 step 7: cleanup failure is non-fatal; log and proceed.
	if err := a.Store.Cleanup(ctx); err != nil {
		plog.Warningf("sysroot cleanup failed (non-fatal): %v", err)
	}

	newBootversion, err := a.Store.BootVersion(ctx)
	if err != nil {
		return false, uerrors.Wrap(uerrors.Failed, err, "reading new bootversion")
	}
	return newBootversion != bootversion, nil
}
