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

// Package uerrors defines the closed error-kind taxonomy surfaced through the
// state machine (spec §7).
package uerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is one of the error classifications the state machine can park in.
type Kind int

const (
	// WrongState: operation invoked in an incompatible state.
	WrongState Kind = iota
	// LiveBoot: operation attempted on a non-installed system.
	LiveBoot
	// NotOstreeSystem: no recognizable deployment.
	NotOstreeSystem
	// WrongConfiguration: malformed Order, duplicate source, unknown source name.
	WrongConfiguration
	// LanDiscoveryError: mDNS client/browser/resolver failed, or no viable LAN URIs.
	LanDiscoveryError
	// MalformedAutoinstallSpec: schema violation in an autoinstall JSON file.
	MalformedAutoinstallSpec
	// UnknownEntryInAutoinstallSpec: recognizable-but-unsupported entry.
	UnknownEntryInAutoinstallSpec
	// Fetching: terminal pull failure after delta fallback.
	Fetching
	// MeteredConnection: network-type policy refused the operation.
	MeteredConnection
	// Cancelled: the calling context was cancelled.
	Cancelled
	// NotFound: a referenced object or ref could not be found.
	NotFound
	// Failed: generic unclassified failure.
	Failed
	// NotSupported: the requested operation has no viable configuration
	// (spec §4.4 step 2: no collection id configured for the upgrade remote).
	NotSupported
)

var names = map[Kind]string{
	WrongState:                     "com.endlessm.Updater.Error.WrongState",
	LiveBoot:                       "com.endlessm.Updater.Error.LiveBoot",
	NotOstreeSystem:                "com.endlessm.Updater.Error.NotOstreeSystem",
	WrongConfiguration:             "com.endlessm.Updater.Error.WrongConfiguration",
	LanDiscoveryError:              "com.endlessm.Updater.Error.LanDiscoveryError",
	MalformedAutoinstallSpec:       "com.endlessm.Updater.Error.MalformedAutoinstallSpec",
	UnknownEntryInAutoinstallSpec:  "com.endlessm.Updater.Error.UnknownEntryInAutoinstallSpec",
	Fetching:                       "com.endlessm.Updater.Error.Fetching",
	MeteredConnection:              "com.endlessm.Updater.Error.MeteredConnection",
	Cancelled:                      "com.endlessm.Updater.Error.Cancelled",
	NotFound:                       "com.endlessm.Updater.Error.NotFound",
	Failed:                         "com.endlessm.Updater.Error.Failed",
	NotSupported:                   "com.endlessm.Updater.Error.NotSupported",
}

// code is the stable numeric identifier for each Kind, exposed as ErrorCode.
var code = map[Kind]int{
	WrongState:                    1,
	LiveBoot:                      2,
	NotOstreeSystem:               3,
	WrongConfiguration:            4,
	LanDiscoveryError:             5,
	MalformedAutoinstallSpec:      6,
	UnknownEntryInAutoinstallSpec: 7,
	Fetching:                      8,
	MeteredConnection:             9,
	Cancelled:                     10,
	NotFound:                      11,
	Failed:                        12,
	NotSupported:                  13,
}

// Error is the concrete error type carried by the state machine's Error state.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

// New builds an Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind, preserving cause for Unwrap.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// Wrapf is Wrap with Printf-style formatting of message.
func Wrapf(kind Kind, cause error, format string, args ...interface{}) *Error {
	return Wrap(kind, cause, fmt.Sprintf(format, args...))
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Name(), e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Name(), e.Message)
}

// Unwrap supports errors.Is/As. *Error has no Cause method, so
// github.com/pkg/errors.Cause stops at an *Error rather than unwrapping it.
func (e *Error) Unwrap() error { return e.cause }

// Name is the dotted error-kind identifier (ErrorName, §6).
func (e *Error) Name() string { return names[e.Kind] }

// Code is the stable numeric identifier (ErrorCode, §6).
func (e *Error) Code() int { return code[e.Kind] }

// Of extracts an *Error from err, or classifies it as Failed if it is not one.
func Of(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: Failed, Message: err.Error(), cause: err}
}

// IsCancelled reports whether err (or its cause chain) classifies as Cancelled.
func IsCancelled(err error) bool {
	e := Of(err)
	return e != nil && e.Kind == Cancelled
}
