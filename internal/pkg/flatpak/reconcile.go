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
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// CheckoutAutoinstallSubpath is where a checked-out commit's own autoinstall
// list lives, if present (spec §4.7.1).
const CheckoutAutoinstallSubpath = "usr/share/eos-application-tools/flatpak-autoinstall.d"

// Reconciler runs the full §4.7 pipeline: parse, layered merge, flatten,
// progress filter, dependency augmentation.
type Reconciler struct {
	// Dirs is the ordered list of autoinstall directories (priority = index,
	// 0 highest), spec §4.7.1.
	Dirs []string
	// CheckoutDir is the sibling flatpak-autoinstall.d directory inside a
	// checked-out commit, lowest priority; empty if not present.
	CheckoutDir string

	Device       Device
	Progress     Progress
	Installation Installation
}

// Result is the reconciler's output (§4.7.10): the pending actions to apply
// at next boot, plus every skipped-entry record accumulated along the way
// (spec §7: UnknownEntryInAutoinstallSpec is recoverable per-entry).
type Result struct {
	Actions []Action
	Skipped []SkippedAction
}

// Reconcile runs the pipeline and returns the ordered, dependency-augmented
// action list to hand off to an external applicator (§4.7.10).
func (r *Reconciler) Reconcile(ctx context.Context) (Result, error) {
	dirs := append([]string{}, r.Dirs...)
	if r.CheckoutDir != "" {
		dirs = append(dirs, r.CheckoutDir)
	}

	var files []AutoinstallFile
	var skipped []SkippedAction
	for priority, dir := range dirs {
		parsed, more, err := parseDir(dir, priority, r.Device)
		if err != nil {
			return Result{}, err
		}
		files = append(files, parsed...)
		skipped = append(skipped, more...)
	}

	merged := MergeLayered(files)
	flattened := Flatten(merged)
	pending := FilterNew(flattened, r.Progress)

	augmented := pending
	if r.Installation != nil {
		augmented = Augment(ctx, r.Installation, pending)
	}

	return Result{Actions: augmented, Skipped: skipped}, nil
}

func parseDir(dir string, priority int, dev Device) ([]AutoinstallFile, []SkippedAction, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, errors.Wrapf(err, "listing autoinstall directory %s", dir)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var files []AutoinstallFile
	var skipped []SkippedAction
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "reading %s", path)
		}
		result, err := ParseFile(name, priority, data, dev)
		if err != nil {
			return nil, nil, err
		}
		files = append(files, result.File)
		skipped = append(skipped, result.Skipped...)
	}
	return files, skipped, nil
}
