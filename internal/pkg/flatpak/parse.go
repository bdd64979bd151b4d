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
	"encoding/json"
	"sort"

	"github.com/xeipuuv/gojsonschema"

	"github.com/coreos/eos-updater-core/internal/pkg/uerrors"
)

// autoinstallSchema is the pre-decode shape check (spec §4.7.2/§4.7.3),
// grounded on pkg/builds.Validate's "validate shape with a JSON Schema, then
// decode" two-pass idiom: top-level array of objects with the required
// string/number keys present, before any field-level semantic validation.
const autoinstallSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["action", "serial", "name", "branch", "ref-kind"],
		"properties": {
			"action": {"type": "string"},
			"serial": {"type": "integer"},
			"name": {"type": "string"},
			"branch": {"type": "string"},
			"ref-kind": {"type": "string"},
			"collection-id": {"type": "string"},
			"remote": {"type": "string"},
			"filters": {"type": "object"}
		}
	}
}`

var schemaLoader = gojsonschema.NewStringLoader(autoinstallSchema)

type rawAction struct {
	Action       string              `json:"action"`
	Serial       json.Number         `json:"serial"`
	Name         string              `json:"name"`
	Branch       string              `json:"branch"`
	RefKind      string              `json:"ref-kind"`
	CollectionID string              `json:"collection-id"`
	Remote       string              `json:"remote"`
	Filters      map[string][]string `json:"filters"`
}

// Device describes the local device's arch and locale list for filter
// evaluation (spec §4.7.1), with environment overrides honored at the
// capability-consumption boundary per spec §6.
type Device struct {
	Arch    string
	Locales []string
}

// ParseResult is the outcome of parsing one autoinstall file.
type ParseResult struct {
	File     AutoinstallFile
	Skipped  []SkippedAction
}

// ParseFile parses one autoinstall JSON document (spec §4.7.2/§4.7.3/§4.7.4).
// An empty file is treated as an empty array. Duplicate serials or malformed
// required fields fail the whole file with MalformedAutoinstallSpec, as do
// contradictory filter keys (X together with ~X); an unknown action value, an
// unknown filter key, or a filter that excludes this device skips just that
// entry (recorded in ParseResult.Skipped) without failing the file.
func ParseFile(filename string, priority int, data []byte, dev Device) (ParseResult, error) {
	trimmed := trimSpace(data)
	if len(trimmed) == 0 {
		return ParseResult{File: AutoinstallFile{Filename: filename, Priority: priority}}, nil
	}

	docLoader := gojsonschema.NewBytesLoader(data)
	schemaResult, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return ParseResult{}, uerrors.Wrapf(uerrors.MalformedAutoinstallSpec, err, "%s: invalid JSON", filename)
	}
	if !schemaResult.Valid() {
		return ParseResult{}, uerrors.New(uerrors.MalformedAutoinstallSpec,
			filename+": "+schemaResult.Errors()[0].String())
	}

	var raws []rawAction
	if err := json.Unmarshal(data, &raws); err != nil {
		return ParseResult{}, uerrors.Wrapf(uerrors.MalformedAutoinstallSpec, err, "%s: decoding actions", filename)
	}

	seen := map[int32]bool{}
	var result ParseResult
	result.File.Filename = filename
	result.File.Priority = priority

	for _, raw := range raws {
		serial64, err := raw.Serial.Int64()
		if err != nil || serial64 < minInt32 || serial64 > maxInt32 {
			return ParseResult{}, uerrors.New(uerrors.MalformedAutoinstallSpec,
				filename+": serial out of i32 range or not an integer")
		}
		serial := int32(serial64)
		if seen[serial] {
			return ParseResult{}, uerrors.New(uerrors.MalformedAutoinstallSpec,
				filename+": duplicate serial "+raw.Serial.String())
		}
		seen[serial] = true

		kind, ok := parseActionKind(raw.Action)
		if !ok {
			result.Skipped = append(result.Skipped, SkippedAction{Filename: filename, Serial: serial,
				Reason: "unknown action " + raw.Action})
			continue
		}

		refKind, ok := parseRefKind(raw.RefKind)
		if !ok {
			return ParseResult{}, uerrors.New(uerrors.MalformedAutoinstallSpec,
				filename+": unknown ref-kind "+raw.RefKind)
		}
		if raw.Name == "" || raw.Branch == "" {
			return ParseResult{}, uerrors.New(uerrors.MalformedAutoinstallSpec,
				filename+": name and branch are required")
		}

		keep, malformed, reason := evaluateFilters(raw.Filters, dev)
		if malformed {
			return ParseResult{}, uerrors.New(uerrors.MalformedAutoinstallSpec, filename+": "+reason)
		}
		if !keep {
			result.Skipped = append(result.Skipped, SkippedAction{Filename: filename, Serial: serial, Reason: reason})
			continue
		}

		loc := LocationRef{Ref: Ref{Kind: refKind, Name: raw.Name, Branch: raw.Branch}}
		if kind == Install {
			loc.Remote = raw.Remote
			loc.CollectionID = raw.CollectionID
		}
		result.File.Actions = append(result.File.Actions, Action{
			Kind: kind, Ref: loc, SourceFile: filename, Serial: serial,
		})
	}

	sortWithinFile(result.File.Actions)
	return result, nil
}

const (
	minInt32 = -1 << 31
	maxInt32 = 1<<31 - 1
)

func trimSpace(b []byte) []byte {
	i, j := 0, len(b)
	for i < j && isSpace(b[i]) {
		i++
	}
	for j > i && isSpace(b[j-1]) {
		j--
	}
	return b[i:j]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func parseActionKind(s string) (ActionKind, bool) {
	switch s {
	case "install":
		return Install, true
	case "uninstall":
		return Uninstall, true
	case "update":
		return Update, true
	default:
		return 0, false
	}
}

func parseRefKind(s string) (RefKind, bool) {
	switch s {
	case "app":
		return App, true
	case "runtime":
		return Runtime, true
	default:
		return 0, false
	}
}

// evaluateFilters applies the §4.7.2 filter rules. It returns (keep,
// malformed, reason): malformed=true means the whole file fails
// (contradictory X/~X keys); otherwise reason explains a keep=false skip or
// is empty when keep=true.
func evaluateFilters(filters map[string][]string, dev Device) (keep bool, malformed bool, reason string) {
	if len(filters) == 0 {
		return true, false, ""
	}
	_, hasArch := filters["architecture"]
	_, hasNotArch := filters["~architecture"]
	_, hasLocale := filters["locale"]
	_, hasNotLocale := filters["~locale"]
	if hasArch && hasNotArch {
		return false, true, "filters specify both architecture and ~architecture"
	}
	if hasLocale && hasNotLocale {
		return false, true, "filters specify both locale and ~locale"
	}

	for key := range filters {
		switch key {
		case "architecture", "~architecture", "locale", "~locale":
		default:
			return false, false, "unknown filter key " + key
		}
	}

	if archs, ok := filters["architecture"]; ok && !contains(archs, dev.Arch) {
		return false, false, "architecture filter excludes " + dev.Arch
	}
	if archs, ok := filters["~architecture"]; ok && contains(archs, dev.Arch) {
		return false, false, "~architecture filter excludes " + dev.Arch
	}
	if locales, ok := filters["locale"]; ok && !anyContains(locales, dev.Locales) {
		return false, false, "locale filter excludes device locales"
	}
	if locales, ok := filters["~locale"]; ok && anyContains(locales, dev.Locales) {
		return false, false, "~locale filter excludes device locales"
	}
	return true, false, ""
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func anyContains(list []string, values []string) bool {
	for _, v := range values {
		if contains(list, v) {
			return true
		}
	}
	return false
}

// sortWithinFile applies the §4.7.4 order: ascending by serial, ties broken
// so that among install/update actions IS_DEPENDENCY sorts first, and among
// uninstall actions IS_DEPENDENCY sorts last. At parse time no action yet
// carries IS_DEPENDENCY (that's set only by dependency augmentation, §4.7.9),
// so this reduces to a stable ascending-serial sort here. This is the only
// place the comparator is applied; the lists built by dependency
// augmentation are not re-sorted with it.
func sortWithinFile(actions []Action) {
	sort.SliceStable(actions, func(i, j int) bool {
		return less(actions[i], actions[j])
	})
}

func less(a, b Action) bool {
	if a.Serial != b.Serial {
		return a.Serial < b.Serial
	}
	aDep, bDep := a.Flags.IsDependency(), b.Flags.IsDependency()
	if aDep == bDep {
		return false
	}
	if a.Kind == Uninstall {
		// among uninstall actions, IS_DEPENDENCY sorts after non-dependency.
		return !aDep
	}
	// among install/update actions, IS_DEPENDENCY sorts before non-dependency.
	return aDep
}
