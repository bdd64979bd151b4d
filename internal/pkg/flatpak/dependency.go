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

package flatpak

import (
	"context"

	"github.com/coreos/pkg/capnslog"
)

var plog = capnslog.NewPackageLogger("github.com/coreos/eos-updater-core", "flatpak")

// Augment implements §4.7.9: dependency resolution of action kind, dry-run
// enumeration of related refs, and placement of synthesized dependency
// actions around their parent. It runs a final squash over the augmented
// list, as the spec directs ("After augmentation, squash once more").
func Augment(ctx context.Context, inst Installation, actions []Action) []Action {
	remotes := inst.Remotes()
	seenDep := map[Ref]bool{} // de-dup install/update dependencies across parents (first wins)

	var out []Action
	for _, parent := range actions {
		resolved, drop := resolveKind(inst, parent)
		if drop {
			continue
		}

		deps := dryRunDeps(ctx, inst, resolved, remotes, seenDep)

		if resolved.Kind == Uninstall {
			out = append(out, resolved)
			out = append(out, deps...)
		} else {
			out = append(out, deps...)
			out = append(out, resolved)
		}
	}
	return Squash(out)
}

// resolveKind implements §4.7.9's pre-dry-run kind resolution: install on an
// already-installed ref becomes update; uninstall/update on a not-installed
// ref is dropped.
func resolveKind(inst Installation, a Action) (resolved Action, drop bool) {
	installed := inst.IsInstalled(a.Ref.Ref)
	switch a.Kind {
	case Install:
		if installed {
			a.Kind = Update
		}
		return a, false
	case Uninstall, Update:
		if !installed {
			return a, true
		}
		return a, false
	default:
		return a, false
	}
}

func dryRunDeps(ctx context.Context, inst Installation, parent Action, remotes []RemoteInfo, seenDep map[Ref]bool) []Action {
	txn, err := inst.DryRun(ctx, parent)
	if err != nil {
		plog.Warningf("dry-run for %s %s failed: %v", parent.Kind, parent.Ref.Ref, err)
		return nil
	}
	related, err := txn.Enumerate(ctx)
	txn.Abort(ctx)
	if err != nil {
		plog.Warningf("enumerating dependencies of %s %s failed: %v", parent.Kind, parent.Ref.Ref, err)
		return nil
	}

	var deps []Action
	for _, rel := range related {
		if rel.Equal(parent.Ref.Ref) {
			continue
		}
		isInstallLike := parent.Kind != Uninstall
		if isInstallLike {
			if seenDep[rel] {
				continue
			}
			seenDep[rel] = true
		}
		remote, ok := remoteFor(remotes)
		if !ok {
			continue
		}
		loc := LocationRef{Ref: rel}
		if parent.Kind != Uninstall {
			loc.Remote = remote
		}
		deps = append(deps, Action{
			Kind:       parent.Kind,
			Ref:        loc,
			SourceFile: parent.SourceFile,
			Serial:     parent.Serial,
			Flags:      parent.Flags | IsDependency,
		})
	}
	return deps
}
