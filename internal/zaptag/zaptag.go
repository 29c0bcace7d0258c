// Copyright (C) 2020 The restraint Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package zaptag stamps log records with a free-form subsystem tag so the engine/loop/supervisor/
// statusclient packages can be filtered independently in a shared log stream.
package zaptag

import (
	std_zap "go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const TagKey = "cageLogTag"

func Tag(tags ...string) zapcore.Field {
	return std_zap.Strings(TagKey, append([]string{}, tags...))
}
