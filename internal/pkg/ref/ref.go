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

// Package ref holds the ref-identity types from spec §3: CollectionRef and Refspec.
package ref

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// CollectionRef is (collection_id, ref_name). collection_id is globally unique;
// a ref name alone is ambiguous.
type CollectionRef struct {
	CollectionID string // empty means "unset"
	RefName      string
}

// HasCollectionID reports whether CollectionID is set.
func (c CollectionRef) HasCollectionID() bool { return c.CollectionID != "" }

func (c CollectionRef) String() string {
	if c.HasCollectionID() {
		return fmt.Sprintf("(%s, %s)", c.CollectionID, c.RefName)
	}
	return fmt.Sprintf("(-, %s)", c.RefName)
}

// Equal compares two CollectionRefs by value.
func (c CollectionRef) Equal(o CollectionRef) bool {
	return c.CollectionID == o.CollectionID && c.RefName == o.RefName
}

// Refspec is "<remote>:<ref_name>", a remote-qualified ref.
type Refspec struct {
	Remote  string
	RefName string
}

// String formats the refspec as "<remote>:<ref_name>".
func (r Refspec) String() string {
	return r.Remote + ":" + r.RefName
}

// Equal compares two Refspecs by value.
func (r Refspec) Equal(o Refspec) bool {
	return r.Remote == o.Remote && r.RefName == o.RefName
}

// ParseRefspec parses "<remote>:<ref_name>" into a Refspec. A refspec with no
// colon is treated as a bare ref name with an empty remote.
func ParseRefspec(s string) (Refspec, error) {
	if s == "" {
		return Refspec{}, errors.New("empty refspec")
	}
	remote, refName, found := strings.Cut(s, ":")
	if !found {
		return Refspec{Remote: "", RefName: remote}, nil
	}
	if refName == "" {
		return Refspec{}, errors.Errorf("refspec %q has empty ref name", s)
	}
	return Refspec{Remote: remote, RefName: refName}, nil
}

// CollectionRefOf builds the CollectionRef a Refspec maps to under a given
// collection id (as resolved from remote configuration).
func CollectionRefOf(collectionID string, r Refspec) CollectionRef {
	return CollectionRef{CollectionID: collectionID, RefName: r.RefName}
}
