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

// Package ostreemeta models a commit's content-addressed identity and metadata
// (spec §3) and the version-comparison rules used for downgrade prevention and
// user-visibility classification (spec §4.4, §9 "versioning semantics").
package ostreemeta

import (
	"regexp"
	"strconv"

	semver "github.com/coreos/go-semver/semver"
	"github.com/pkg/errors"
)

// Metadata keys recognized on a Commit, per spec §3.
const (
	MetaKeyVersion            = "version"
	MetaKeyEndOfLifeRebase    = "ostree.endoflife-rebase"
	MetaKeyCheckpointTarget   = "checkpoint-target"
	MetaKeySizes              = "ostree.sizes"
	MetaKeyReleaseNotesURI    = "eos-updater.release-notes-uri"
)

// ObjectSize is one entry of the optional ostree.sizes metadata array: the
// archived (on-the-wire) and unpacked size of one object referenced by a commit.
type ObjectSize struct {
	Archived uint64
	Unpacked uint64
}

// Commit is a content-addressed commit: a 64-hex checksum, its metadata mapping,
// and a monotonic Unix timestamp.
type Commit struct {
	Checksum  string
	Metadata  map[string]interface{}
	Timestamp int64

	// Subject and Body are the commit's own subject/body strings (the children
	// at indices 3 and 4 of an ostree commit variant), surfaced by the State
	// Machine as UpdateLabel/UpdateMessage (spec §6) the way
	// eos-updater-poll-common.c reads them straight off the commit variant
	// rather than from the metadata dict.
	Subject string
	Body    string
}

var checksumPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ValidChecksum reports whether s is a well-formed 64-hex commit checksum.
func ValidChecksum(s string) bool {
	return checksumPattern.MatchString(s)
}

// Version returns the commit's "version" metadata value, if present and a string.
func (c *Commit) Version() (string, bool) {
	if c == nil || c.Metadata == nil {
		return "", false
	}
	v, ok := c.Metadata[MetaKeyVersion].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// CheckpointTarget returns the commit's "checkpoint-target" refspec string, if present.
func (c *Commit) CheckpointTarget() (string, bool) {
	if c == nil || c.Metadata == nil {
		return "", false
	}
	v, ok := c.Metadata[MetaKeyCheckpointTarget].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// EndOfLifeRebase returns the ref name this commit redirects to, if any.
func (c *Commit) EndOfLifeRebase() (string, bool) {
	if c == nil || c.Metadata == nil {
		return "", false
	}
	v, ok := c.Metadata[MetaKeyEndOfLifeRebase].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// ReleaseNotesURI returns the optional release-notes URI template.
func (c *Commit) ReleaseNotesURI() (string, bool) {
	if c == nil || c.Metadata == nil {
		return "", false
	}
	v, ok := c.Metadata[MetaKeyReleaseNotesURI].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Sizes decodes the optional ostree.sizes metadata array.
func (c *Commit) Sizes() ([]ObjectSize, error) {
	if c == nil || c.Metadata == nil {
		return nil, nil
	}
	raw, ok := c.Metadata[MetaKeySizes]
	if !ok {
		return nil, nil
	}
	arr, ok := raw.([]interface{})
	if !ok {
		return nil, errors.Errorf("ostree.sizes is not an array")
	}
	out := make([]ObjectSize, 0, len(arr))
	for i, elem := range arr {
		pair, ok := elem.([]interface{})
		if !ok || len(pair) != 2 {
			return nil, errors.Errorf("ostree.sizes[%d] malformed", i)
		}
		archived, aok := toUint64(pair[0])
		unpacked, uok := toUint64(pair[1])
		if !aok || !uok {
			return nil, errors.Errorf("ostree.sizes[%d] malformed", i)
		}
		out = append(out, ObjectSize{Archived: archived, Unpacked: unpacked})
	}
	return out, nil
}

func toUint64(v interface{}) (uint64, bool) {
	switch n := v.(type) {
	case float64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case uint64:
		return n, true
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	default:
		return 0, false
	}
}

var leadingDecimal = regexp.MustCompile(`^[0-9]+`)

// MajorVersion extracts the locale-independent leading unsigned decimal of a
// dotted version string (spec §4.4: "comparing major version numbers (leading
// unsigned decimal, locale-independent)"). Returns ok=false if there is no
// leading digit run.
//
// Open question (spec §9, "versioning semantics"): only the major component is
// ever compared for user-visibility; this rule is kept as specified.
func MajorVersion(version string) (uint64, bool) {
	m := leadingDecimal.FindString(version)
	if m == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(m, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// IsUserVisible implements the §4.4 step-4 rule: true iff major(cur) < major(new).
// If either version is unparseable, the update is not considered user-visible.
func IsUserVisible(curVersion, newVersion string) bool {
	curMajor, curOk := MajorVersion(curVersion)
	newMajor, newOk := MajorVersion(newVersion)
	if !curOk || !newOk {
		return false
	}
	return curMajor < newMajor
}

// Compare attempts a full dotted-version comparison via go-semver, normalizing
// 1- and 2-component versions (e.g. "3.0") to 3 components first since go-semver
// requires major.minor.patch. Returns an error if either version has no leading
// decimal at all (go-semver can't help in that case, and per spec only the major
// component is load-bearing anyway).
func Compare(a, b string) (int, error) {
	av, err := normalizeSemver(a)
	if err != nil {
		return 0, err
	}
	bv, err := normalizeSemver(b)
	if err != nil {
		return 0, err
	}
	return av.Compare(*bv), nil
}

func normalizeSemver(v string) (*semver.Version, error) {
	if _, ok := MajorVersion(v); !ok {
		return nil, errors.Errorf("version %q has no leading decimal", v)
	}
	parts := splitDots(v)
	for len(parts) < 3 {
		parts = append(parts, "0")
	}
	norm := parts[0] + "." + parts[1] + "." + parts[2]
	sv, err := semver.NewVersion(norm)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing normalized version %q", norm)
	}
	return sv, nil
}

func splitDots(v string) []string {
	var out []string
	cur := ""
	for _, r := range v {
		if r == '.' {
			out = append(out, cur)
			cur = ""
			continue
		}
		cur += string(r)
	}
	out = append(out, cur)
	return out
}
