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

// Package branchfile is a supplemented feature (SPEC_FULL.md "SUPPLEMENTED
// FEATURES" #1), grounded on original_source/src/eos-extensions.c and
// eos-branch-file.c: it parses an optional "eos-extensions.json" branch file
// shipped in a checked-out commit's tree, listing extra collection-refs that
// should be polled/fetched alongside the main OS ref. Expressed as a plain
// JSON-decoded struct rather than the original's refcounted GLib object.
package branchfile

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/coreos/eos-updater-core/internal/pkg/ref"
)

// Subpath is where the branch file lives inside a checked-out commit's tree.
const Subpath = "usr/share/eos-application-tools/eos-extensions.json"

type rawExtension struct {
	CollectionID string `json:"collection-id"`
	Ref          string `json:"ref"`
}

type rawBranchFile struct {
	Extensions []rawExtension `json:"extensions"`
}

// Load reads and parses the branch file from inside a checked-out commit
// tree at checkoutPath, if present. A missing file is not an error: it
// returns an empty slice, matching eos_branch_file_new_empty as the fallback
// when no branch file is shipped.
func Load(checkoutPath string) ([]ref.CollectionRef, error) {
	data, err := os.ReadFile(filepath.Join(checkoutPath, Subpath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "reading branch file")
	}
	return Parse(data)
}

// Parse decodes raw branch-file JSON into extension CollectionRefs.
func Parse(data []byte) ([]ref.CollectionRef, error) {
	var raw rawBranchFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "decoding branch file")
	}
	out := make([]ref.CollectionRef, 0, len(raw.Extensions))
	for _, ext := range raw.Extensions {
		if ext.CollectionID == "" || ext.Ref == "" {
			continue
		}
		out = append(out, ref.CollectionRef{CollectionID: ext.CollectionID, RefName: ext.Ref})
	}
	return out, nil
}
