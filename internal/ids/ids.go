// Copyright (C) 2020 The restraint Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package ids generates opaque identifiers for tasks and recipes that omit one in their config.
package ids

import (
	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// NewKSUID returns a new K-sortable, time-ordered id — the default, since its lexical ordering
// matches log/heartbeat correlation across a recipe's tasks.
func NewKSUID() string {
	return ksuid.New().String()
}

// NewUUID returns an RFC 4122 random id, for environments that prefer it over a KSUID.
func NewUUID() string {
	return uuid.NewString()
}
