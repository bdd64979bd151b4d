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

import "sort"

// MergeLayered implements §4.7.5: for each directory in priority order,
// enumerate files by name; if a filename is seen at multiple priorities, keep
// the higher-priority (numerically lower) occurrence and discard the other.
// files must already be in directory-priority order (index 0 is the
// highest-priority directory).
func MergeLayered(files []AutoinstallFile) []AutoinstallFile {
	bestByName := map[string]AutoinstallFile{}
	order := []string{}
	for _, f := range files {
		existing, ok := bestByName[f.Filename]
		if !ok {
			order = append(order, f.Filename)
			bestByName[f.Filename] = f
			continue
		}
		if f.Priority < existing.Priority {
			bestByName[f.Filename] = f
		}
	}
	out := make([]AutoinstallFile, 0, len(order))
	for _, name := range order {
		out = append(out, bestByName[name])
	}
	return out
}

// Squash implements §4.7.6: a left-to-right walk over actions maintaining a
// map from Ref to the currently-selected action for that ref, then a second
// pass that keeps, in original order, the action iff the map still
// associates that ref with that specific action instance.
//
// §8 invariant: Squash(Squash(a)) == Squash(a) for any action sequence a.
func Squash(actions []Action) []Action {
	selected := map[Ref]*Action{}
	owned := make([]*Action, len(actions))
	for i := range actions {
		a := actions[i]
		owned[i] = &a
		existing, ok := selected[a.Ref.Ref]
		switch {
		case a.Kind == Install || a.Kind == Uninstall:
			selected[a.Ref.Ref] = owned[i]
		case a.Kind == Update:
			if !ok || existing.Kind == Update {
				selected[a.Ref.Ref] = owned[i]
			}
		}
	}
	var out []Action
	for i, a := range owned {
		if selected[a.Ref.Ref] == owned[i] {
			out = append(out, *a)
		}
	}
	return out
}

// FilterNew implements §4.7.7's filter_new: keep entries whose serial is
// strictly greater than the file's progress watermark; a file absent from
// progress entirely keeps everything (it has never been applied).
func FilterNew(actions []Action, progress Progress) []Action {
	return filterProgress(actions, progress, true, func(serial, last int32) bool { return serial > last })
}

// FilterExisting implements §4.7.7's filter_existing: keep entries whose
// serial is <= the file's progress watermark; a file absent from progress
// keeps nothing (keep_only_existing_actions,
// original_source/libeos-updater-util/flatpak-util.c), matching the §8
// partition invariant that filter_new and filter_existing, once squashed,
// must together cover squash(T) with no overlap.
func FilterExisting(actions []Action, progress Progress) []Action {
	return filterProgress(actions, progress, false, func(serial, last int32) bool { return serial <= last })
}

func filterProgress(actions []Action, progress Progress, keepOnAbsent bool, keep func(serial, last int32) bool) []Action {
	var kept []Action
	for _, a := range actions {
		last, ok := progress.Last(a.SourceFile)
		switch {
		case !ok:
			if keepOnAbsent {
				kept = append(kept, a)
			}
		case keep(a.Serial, last):
			kept = append(kept, a)
		}
	}
	return Squash(kept)
}

// Flatten implements §4.7.8: iterate filenames in lexicographic order,
// concatenate their action lists, then squash once across the whole set.
func Flatten(files []AutoinstallFile) []Action {
	byName := map[string][]Action{}
	names := make([]string, 0, len(files))
	for _, f := range files {
		if _, ok := byName[f.Filename]; !ok {
			names = append(names, f.Filename)
		}
		byName[f.Filename] = append(byName[f.Filename], f.Actions...)
	}
	sort.Strings(names)
	var concatenated []Action
	for _, name := range names {
		concatenated = append(concatenated, byName[name]...)
	}
	return Squash(concatenated)
}
