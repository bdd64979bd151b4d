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

// Package content defines the Content Store capability interface (spec §1:
// "Concrete OS-image content store semantics ... consumed via a capability
// interface; they are not re-specified") and a CLI-backed implementation.
package content

import (
	"context"

	"github.com/coreos/eos-updater-core/internal/pkg/deployment"
	"github.com/coreos/eos-updater-core/internal/pkg/ostreemeta"
	"github.com/coreos/eos-updater-core/internal/pkg/ref"
)

// PullOptions configures a pull-from-remotes operation (Fetch stage, §4.5).
type PullOptions struct {
	CollectionRefs      []ref.CollectionRef
	Remotes             []string
	DisableStaticDeltas bool
	// ProgressBytes, if non-nil, is called with a monotonically non-decreasing
	// downloaded-byte count as the pull proceeds.
	ProgressBytes func(downloaded uint64)
}

// WriteDeploymentFlags mirrors the flags accepted by simple-write-deployment.
type WriteDeploymentFlags struct {
	NoClean bool
}

// Store is the capability interface the Poll/Fetch/Apply stages consume. It
// deliberately does not specify object-store layout, delta format, GPG
// verification or static-delta generation: those are external collaborators
// per spec §1.
type Store interface {
	// BootedDeployment returns the currently booted deployment.
	BootedDeployment(ctx context.Context) (*deployment.Deployment, error)

	// LoadCommit loads a commit's metadata variant from the local store. It
	// must not error merely because the commit is absent; callers check for
	// a nil return.
	LoadCommit(ctx context.Context, checksum string) (*ostreemeta.Commit, error)

	// ResolveRef resolves a refspec to a locally-known checksum, or returns
	// ("", nil) if the refspec is not locally resolvable.
	ResolveRef(ctx context.Context, refspec ref.Refspec) (string, error)

	// KnownRemote reports whether remote is configured in the store.
	KnownRemote(remote string) bool

	// CollectionIDForRemote returns the collection id configured for remote,
	// or ("", false) if none is configured.
	CollectionIDForRemote(remote string) (string, bool)

	// RegisterTransientRemote registers a short-lived remote pointing at url,
	// for sources discovered at runtime (an override URI, a LAN peer) that
	// are not named in static remote configuration. Calling it again with
	// the same name is a no-op. collectionID may be empty if unknown.
	RegisterTransientRemote(ctx context.Context, name, url, collectionID string) error

	// PullCommitMetadataOnly pulls just the commit object (not its tree) for
	// collectionRef from remote, making LoadCommit/ResolveRef able to see it.
	PullCommitMetadataOnly(ctx context.Context, remote string, collectionRef ref.CollectionRef) error

	// PullFromRemotes pulls all objects for opts.CollectionRefs from the given
	// remotes, honoring DisableStaticDeltas (the Fetch stage's delta-to-full
	// fallback, §4.5).
	PullFromRemotes(ctx context.Context, opts PullOptions) error

	// LockSysroot acquires the sysroot lock; the returned func releases it and
	// must be deferred by the caller immediately.
	LockSysroot(ctx context.Context) (unlock func(), err error)

	// ReloadSysroot re-reads on-disk sysroot state after acquiring the lock.
	ReloadSysroot(ctx context.Context) error

	// BootVersion returns the sysroot's current bootversion.
	BootVersion(ctx context.Context) (int, error)

	// ClearRefspecLocally opens a transaction, clears the local ref mapping
	// for refspec (so cleanup can prune its tree), and commits the
	// transaction. Used by Apply when new_refspec != old_refspec (§4.6 step 5).
	ClearRefspecLocally(ctx context.Context, refspec ref.Refspec) error

	// DeployTree constructs a new deployment for checksum with the given
	// origin, using bootedDeployment as the merge parent (§4.6 step 4).
	DeployTree(ctx context.Context, osname, checksum string, origin deployment.Origin, bootedDeployment *deployment.Deployment) (*deployment.Deployment, error)

	// SimpleWriteDeployment stages newDep above the booted deployment (§4.6 step 6).
	SimpleWriteDeployment(ctx context.Context, osname string, newDep *deployment.Deployment, flags WriteDeploymentFlags) error

	// Cleanup reclaims unreferenced objects and old deployments (§4.6 step 7).
	// Per spec, a Cleanup failure after a successful Apply is non-fatal.
	Cleanup(ctx context.Context) error

	// CheckedOutPath returns the local filesystem path of a checked-out
	// commit's tree, used by the reconciler to read a sibling autoinstall.d
	// directory (§4.7.1) and by the branch-file reader.
	CheckedOutPath(ctx context.Context, checksum string) (string, error)

	// StageOntoVolume stages checksum and its objects onto a removable volume
	// at mountPath, in the layout later read back by the Volume finder.
	// Supplemented feature: the producer side of §4.3's Volume source kind,
	// grounded on original_source/src/eos-prepare-volume.c.
	StageOntoVolume(ctx context.Context, mountPath string, checksum string, collectionRef ref.CollectionRef) error
}
