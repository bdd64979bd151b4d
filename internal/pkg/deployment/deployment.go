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

// Package deployment models a bootable, checked-out commit and its origin file
// (spec §3).
package deployment

import (
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"

	"github.com/coreos/eos-updater-core/internal/pkg/ref"
)

// Deployment is a specific checked-out commit rooted on disk and bootable.
type Deployment struct {
	OSName   string
	Checksum string
	Origin   Origin
	// BootVersion identifies which bootloader generation this deployment is
	// staged under; used by the Apply stage to detect a deployment change.
	BootVersion int
}

// Origin is the key-value origin file tracked alongside a deployment.
type Origin struct {
	Refspec ref.Refspec
}

// ParseOrigin reads an origin key-file's "origin.refspec" key.
func ParseOrigin(data []byte) (Origin, error) {
	f, err := ini.Load(data)
	if err != nil {
		return Origin{}, errors.Wrap(err, "parsing origin file")
	}
	raw := f.Section("origin").Key("refspec").String()
	if raw == "" {
		return Origin{}, errors.New("origin file has no origin.refspec key")
	}
	rs, err := ref.ParseRefspec(raw)
	if err != nil {
		return Origin{}, errors.Wrap(err, "origin.refspec")
	}
	return Origin{Refspec: rs}, nil
}

// Format renders the origin file back to its on-disk key-file form.
func (o Origin) Format() []byte {
	f := ini.Empty()
	sec, _ := f.NewSection("origin")
	_, _ = sec.NewKey("refspec", o.Refspec.String())
	var buf []byte
	w := &sliceWriter{&buf}
	_, _ = f.WriteTo(w)
	return buf
}

type sliceWriter struct{ buf *[]byte }

func (s *sliceWriter) Write(p []byte) (int, error) {
	*s.buf = append(*s.buf, p...)
	return len(p), nil
}
