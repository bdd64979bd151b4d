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

// Command eos-updated is the OS image update daemon: it wires the Content
// Store, Source Finder, Poll/Fetch/Apply stages and the State Machine
// together, then exposes the result over D-Bus (spec §6). Flag and logging
// conventions follow the teacher's cmd/kola/kola.go + mantle/cli.Execute
// shape, reimplemented locally rather than importing the mantle module.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/pkg/capnslog"
	"github.com/godbus/dbus/v5"
	"github.com/spf13/cobra"

	"github.com/coreos/eos-updater-core/internal/pkg/config"
	"github.com/coreos/eos-updater-core/internal/pkg/content"
	"github.com/coreos/eos-updater-core/internal/pkg/dbusapi"
	"github.com/coreos/eos-updater-core/internal/pkg/finder"
	"github.com/coreos/eos-updater-core/internal/pkg/finder/lan"
	"github.com/coreos/eos-updater-core/internal/pkg/refspec"
	"github.com/coreos/eos-updater-core/internal/pkg/stage"
	"github.com/coreos/eos-updater-core/internal/pkg/statemachine"
)

var (
	plog = capnslog.NewPackageLogger("github.com/coreos/eos-updater-core", "eos-updated")

	logLevel    = capnslog.NOTICE
	logDebug    bool
	configPath  string
	sysrootPath string
	clientID    string

	root = &cobra.Command{
		Use:   "eos-updated",
		Short: "OS image update daemon",
		RunE:  run,
	}
)

func init() {
	root.PersistentFlags().Var(&logLevel, "log-level", "Set global log level.")
	root.PersistentFlags().BoolVarP(&logDebug, "debug", "d", false, "Alias for --log-level=DEBUG")
	root.Flags().StringVar(&configPath, "config", "/etc/eos-updater/eos-updater.conf", "Path to the [Download] config file")
	root.Flags().StringVar(&sysrootPath, "sysroot", "/", "ostree sysroot path")
	root.Flags().StringVar(&clientID, "client-id", "eos-updated", "OSTREE_CLIENT_ID sent with every ostree invocation")
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		plog.Notice("received shutdown signal")
		cancel()
	}()

	download, err := config.Load(configPath)
	if err != nil {
		return err
	}

	store := content.NewCLIStore(sysrootPath, "", clientID)

	booted, err := store.BootedDeployment(ctx)
	if err != nil {
		return err
	}
	store.OSName = booted.OSName

	finders := finder.Build(finder.BuildOptions{
		Order:        download.Order,
		OverrideURIs: download.OverrideURIs,
		Store:        store,
		MirrorRemote: booted.Origin.Refspec.Remote,
		NewLAN:       lan.New(store, priorityOf(download.Order, finder.LAN), "/ostree/repo"),
	})

	resolver := &refspec.Resolver{Store: store, SysrootPath: sysrootPath}
	poller := &stage.Poller{Store: store, Resolver: resolver, Finders: finders}
	fetcher := &stage.Fetcher{Store: store}
	applier := &stage.Applier{Store: store, OSName: booted.OSName}

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return err
	}
	defer conn.Close()

	svc := dbusapi.New(conn, func(mountPath string) statemachine.Poller {
		return &stage.Poller{
			Store:    store,
			Resolver: resolver,
			Finders:  &finder.Set{Finders: []finder.Finder{&finder.VolumeFinder{MountPath: mountPath}}},
		}
	})

	machine := statemachine.New(store, poller, fetcher, applier, svc.OnStateChanged)
	if err := svc.Attach(machine); err != nil {
		return err
	}
	if err := machine.Start(ctx); err != nil {
		return err
	}

	plog.Notice("eos-updated started")
	<-ctx.Done()
	return nil
}

// priorityOf returns the index of kind within order, or len(order) if absent
// (the LAN factory still needs a priority even when LAN isn't configured;
// finder.Build skips calling it in that case).
func priorityOf(order []finder.Kind, kind finder.Kind) int {
	for i, k := range order {
		if k == kind {
			return i
		}
	}
	return len(order)
}
