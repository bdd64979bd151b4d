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

// Package config reads the §6 "[Download]" INI configuration - the same
// narrow, typed configuration surface platform/conf owns for Ignition
// configs, applied here to gopkg.in/ini.v1 instead of a hand-rolled parser.
package config

import (
	"strings"

	"gopkg.in/ini.v1"

	"github.com/coreos/eos-updater-core/internal/pkg/finder"
	"github.com/coreos/eos-updater-core/internal/pkg/uerrors"
)

// Download is the parsed [Download] section (spec §6).
type Download struct {
	// Order is the configured subset of {main, lan, volume}, in priority order.
	Order []finder.Kind
	// OverrideURIs, if non-empty, replaces Order entirely.
	OverrideURIs []string
}

// Load reads and validates the [Download] section from an INI file at path.
func Load(path string) (Download, error) {
	f, err := ini.Load(path)
	if err != nil {
		return Download{}, uerrors.Wrap(uerrors.WrongConfiguration, err, "reading config file")
	}
	return parse(f)
}

// Parse validates the [Download] section from already-loaded INI data, for
// callers that assemble config from something other than a file (tests, a
// dbus-activated config reload).
func Parse(data []byte) (Download, error) {
	f, err := ini.Load(data)
	if err != nil {
		return Download{}, uerrors.Wrap(uerrors.WrongConfiguration, err, "parsing config data")
	}
	return parse(f)
}

func parse(f *ini.File) (Download, error) {
	section := f.Section("Download")

	if overrides := section.Key("OverrideUris").Strings(","); len(overrides) > 0 {
		return Download{OverrideURIs: overrides}, nil
	}

	orderRaw := section.Key("Order").String()
	if orderRaw == "" {
		return Download{}, uerrors.New(uerrors.WrongConfiguration, "Download.Order must have at least one entry")
	}

	var order []finder.Kind
	seen := map[finder.Kind]bool{}
	for _, name := range strings.Split(orderRaw, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		kind, ok := finder.ParseKind(name)
		if !ok {
			return Download{}, uerrors.New(uerrors.WrongConfiguration, "unknown source name in Download.Order: "+name)
		}
		if seen[kind] {
			return Download{}, uerrors.New(uerrors.WrongConfiguration, "duplicate source name in Download.Order: "+name)
		}
		seen[kind] = true
		order = append(order, kind)
	}
	if len(order) == 0 {
		return Download{}, uerrors.New(uerrors.WrongConfiguration, "Download.Order must have at least one entry")
	}
	return Download{Order: order}, nil
}
