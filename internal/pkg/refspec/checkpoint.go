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

// Package refspec implements the Refspec Resolver and checkpoint gate of
// spec §4.2/§4.2.1, grounded on original_source/libeos-updater-util/checkpoint.c
// and its test libeos-updater-util/tests/checkpoint.c.
package refspec

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/coreos/pkg/capnslog"
)

var plog = capnslog.NewPackageLogger("github.com/coreos/eos-updater-core", "refspec")

// forceFollowCheckpointEnv is the override variable of §4.2.1.
const forceFollowCheckpointEnv = "EOS_UPDATER_FORCE_FOLLOW_CHECKPOINT"

// nvmeRemapDriverDir is the PCI driver directory checked for a remapped NVMe
// configuration (checkpoint.c's is_nvme_remap_in_use).
const nvmeRemapDriverDir = "sys/bus/pci/drivers/intel-nvme-remap"

// Gate is the pluggable predicate §9 asks for: "so refusal rules can evolve".
// It returns whether the checkpoint should be followed; reason explains a
// false result.
type Gate func(sysrootPath, bootedRef, targetRef string) (follow bool, reason string)

// ShouldFollowCheckpoint is the default Gate implementation (§4.2.1):
//   - EOS_UPDATER_FORCE_FOLLOW_CHECKPOINT=1/0 unconditionally accepts/refuses.
//   - otherwise a remapped NVMe configuration (a symlink under the
//     intel-nvme-remap PCI driver directory named "0000:*") refuses.
func ShouldFollowCheckpoint(sysrootPath, bootedRef, targetRef string) (bool, string) {
	switch os.Getenv(forceFollowCheckpointEnv) {
	case "1":
		plog.Infof("forcing checkpoint target %q to be used (%s=1)", targetRef, forceFollowCheckpointEnv)
		return true, ""
	case "0":
		plog.Infof("forcing checkpoint target %q not to be used (%s=0)", targetRef, forceFollowCheckpointEnv)
		return false, forceFollowCheckpointEnv + "=0 is set"
	}

	if isNVMeRemapInUse(sysrootPath) {
		return false, "This device uses remapped NVME storage, which is not supported on this branch"
	}
	return true, ""
}

// isNVMeRemapInUse reports whether any child of the intel-nvme-remap PCI
// driver directory is a symlink whose name begins with "0000:" (checkpoint.c).
func isNVMeRemapInUse(sysrootPath string) bool {
	dir := filepath.Join(sysrootPath, nvmeRemapDriverDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			plog.Warningf("failed to enumerate %s: %v", dir, err)
			return true
		}
		return false
	}
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			// Something went wrong inspecting an entry whose driver is
			// present: assume it's in use, matching checkpoint.c's "assume
			// it's in use" fallback on enumeration error.
			return true
		}
		if info.Mode()&os.ModeSymlink == 0 {
			continue
		}
		if strings.HasPrefix(entry.Name(), "0000:") {
			return true
		}
	}
	return false
}
