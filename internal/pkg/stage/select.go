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

import "github.com/coreos/eos-updater-core/internal/pkg/finder"

// SelectLatest implements §4.8's per-source selection among multiple
// concurrently-produced UpdateInfos: group by commit timestamp, keep only
// the latest-timestamp group(s), then walk order and return the first
// candidate whose source kind is in that group. Returns nil if none match.
func SelectLatest(candidates []*UpdateInfo, order []finder.Kind) *UpdateInfo {
	if len(candidates) == 0 {
		return nil
	}
	var latestTS int64
	for _, c := range candidates {
		if c.Commit != nil && c.Commit.Timestamp > latestTS {
			latestTS = c.Commit.Timestamp
		}
	}
	inLatestGroup := map[finder.Kind]*UpdateInfo{}
	for _, c := range candidates {
		if c.Commit != nil && c.Commit.Timestamp == latestTS {
			inLatestGroup[c.SourceKind] = c
		}
	}
	for _, kind := range order {
		if c, ok := inLatestGroup[kind]; ok {
			return c
		}
	}
	return nil
}
