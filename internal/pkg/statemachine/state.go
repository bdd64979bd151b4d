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

// Package statemachine implements the State Machine of spec §4.1: it
// serializes the Poll/Fetch/Apply worker stages and exposes the system's
// current phase and last error, per the §5 "at most one worker task running
// at any instant" concurrency contract.
package statemachine

import "github.com/coreos/pkg/capnslog"

var plog = capnslog.NewPackageLogger("github.com/coreos/eos-updater-core", "statemachine")

// State is one of the §4.1 phases.
type State int

const (
	None State = iota
	Ready
	Polling
	UpdateAvailable
	Fetching
	UpdateReady
	Applying
	UpdateApplied
	Error
)

func (s State) String() string {
	switch s {
	case None:
		return "None"
	case Ready:
		return "Ready"
	case Polling:
		return "Polling"
	case UpdateAvailable:
		return "UpdateAvailable"
	case Fetching:
		return "Fetching"
	case UpdateReady:
		return "UpdateReady"
	case Applying:
		return "Applying"
	case UpdateApplied:
		return "UpdateApplied"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}
