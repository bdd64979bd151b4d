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

import "context"

// RemoteInfo describes one remote configured on the Installation, as needed
// to pick a remote for a dependency ref (spec §4.7.9).
type RemoteInfo struct {
	Name    string
	Disabled bool
	NoDeps  bool
}

// Transaction is a dry-run handle returned by Installation.DryRun: Enumerate
// lists the related (runtime + extension) refs the transaction would also
// touch, and Abort releases it without applying anything (spec §4.7.9:
// "Abort the transaction after enumeration").
type Transaction interface {
	Enumerate(ctx context.Context) ([]Ref, error)
	Abort(ctx context.Context)
}

// Installation is the capability interface used only to dry-run dependency
// resolution (spec §4.7.1 "An installation handle (used only to dry-run
// dependency resolution)"). Concrete flatpak installation semantics are an
// external collaborator, consumed here the same way internal/pkg/content.Store
// stands in for ostree.
type Installation interface {
	// IsInstalled reports whether ref is currently installed.
	IsInstalled(ref Ref) bool

	// Remotes lists the installation's configured remotes.
	Remotes() []RemoteInfo

	// DryRun starts a transaction that would perform action, without
	// applying it, so its related-ref closure can be enumerated.
	DryRun(ctx context.Context, action Action) (Transaction, error)
}

// remoteFor picks the first enabled, deps-capable remote from remotes,
// matching §4.7.9's "Determine its remote from the installation's remote
// list, skipping disabled or no-deps remotes."
func remoteFor(remotes []RemoteInfo) (string, bool) {
	for _, r := range remotes {
		if r.Disabled || r.NoDeps {
			continue
		}
		return r.Name, true
	}
	return "", false
}
