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

// Command eos-updater-prepare-volume stages a commit and its objects onto a
// removable volume in the layout the Volume finder (internal/pkg/finder)
// reads back. Supplemented feature grounded on
// original_source/src/eos-prepare-volume.c.
package main

import (
	"context"

	"github.com/coreos/pkg/capnslog"
	"github.com/spf13/cobra"

	"github.com/coreos/eos-updater-core/internal/pkg/content"
	"github.com/coreos/eos-updater-core/internal/pkg/ref"
)

var (
	plog = capnslog.NewPackageLogger("github.com/coreos/eos-updater-core", "eos-updater-prepare-volume")

	logLevel    = capnslog.NOTICE
	logDebug    bool
	sysrootPath string
	clientID    string
	collection  string
	refName     string

	root = &cobra.Command{
		Use:   "eos-updater-prepare-volume [mount-path] [checksum]",
		Short: "Stage a commit onto a removable volume for offline/LAN-less updates",
		Args:  cobra.ExactArgs(2),
		RunE:  run,
	}
)

func init() {
	root.PersistentFlags().Var(&logLevel, "log-level", "Set global log level.")
	root.PersistentFlags().BoolVarP(&logDebug, "debug", "d", false, "Alias for --log-level=DEBUG")
	root.Flags().StringVar(&sysrootPath, "sysroot", "/", "ostree sysroot path")
	root.Flags().StringVar(&clientID, "client-id", "eos-updater-prepare-volume", "OSTREE_CLIENT_ID sent with every ostree invocation")
	root.Flags().StringVar(&collection, "collection-id", "", "Collection id the staged ref belongs to")
	root.Flags().StringVar(&refName, "ref", "", "Ref name the staged checksum should be resolvable as")
}

func main() {
	if err := root.Execute(); err != nil {
		plog.Fatal(err)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if logDebug {
		logLevel = capnslog.DEBUG
	}
	capnslog.SetFormatter(capnslog.NewStringFormatter(cmd.OutOrStderr()))
	capnslog.SetGlobalLogLevel(logLevel)

	mountPath, checksum := args[0], args[1]

	store := content.NewCLIStore(sysrootPath, "", clientID)
	collectionRef := ref.CollectionRef{CollectionID: collection, RefName: refName}

	if err := store.StageOntoVolume(context.Background(), mountPath, checksum, collectionRef); err != nil {
		return err
	}
	plog.Noticef("staged %s onto %s", checksum, mountPath)
	return nil
}
