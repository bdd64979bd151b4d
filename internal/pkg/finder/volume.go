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
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"context"

	"github.com/pkg/errors"

	"github.com/coreos/eos-updater-core/internal/pkg/ref"
	"github.com/coreos/eos-updater-core/internal/pkg/uerrors"
)

// volumeRemoteName is the synthetic remote name attached to a mounted volume's
// embedded repo, mirroring the original eos-prepare-volume/poll-volume pairing.
const volumeRemoteName = "eos-volume"

// VolumeFinder reads back the ref->checksum mapping a removable volume was
// staged with (internal/pkg/content.Store.StageOntoVolume), matching
// original_source/src/eos-updater-poll-volume.c's role as the consumer side
// of the volume-prepare format.
type VolumeFinder struct {
	MountPath string
	Priority  int
}

func (f *VolumeFinder) Kind() Kind { return Volume }

func (f *VolumeFinder) Find(ctx context.Context, collectionRefs []ref.CollectionRef) ([]Result, error) {
	refsPath := filepath.Join(f.MountPath, ".ostree", "eos-updater-refs")
	file, err := os.Open(refsPath)
	if err != nil {
		return nil, uerrors.Wrap(uerrors.NotFound, err, "opening volume refs file")
	}
	defer file.Close()

	wanted := map[string]bool{}
	for _, cr := range collectionRefs {
		wanted[cr.RefName] = true
	}

	refs := map[string]string{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		refName, checksum, found := strings.Cut(scanner.Text(), "\t")
		if !found || refName == "" || checksum == "" {
			continue
		}
		if wanted[refName] {
			refs[refName] = checksum
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading volume refs file")
	}
	if len(refs) == 0 {
		return nil, uerrors.New(uerrors.NotFound, "volume has no answer for the requested refs")
	}
	return []Result{{Remote: volumeRemoteName, Priority: f.Priority, Refs: refs, Kind: Volume}}, nil
}
