// Copyright (C) 2020 The restraint Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package testkit holds small helpers shared across this module's test files.
package testkit

import (
	"os"
	"testing"

	"go.uber.org/zap"
)

// FatalErrf fails the test immediately if err is non-nil, including err in the message.
func FatalErrf(t *testing.T, err error, f string, v ...interface{}) {
	if err != nil {
		f = f + ": %+v"
		v = append(v, err)
		t.Fatalf(f, v...)
	}
}

// NewZapLogger writes to stdout if enabled via environment variable restraint_testkit_log=1,
// or discards everything otherwise. Flip the variable on to see engine/supervisor/observer
// logging while debugging a failing test.
func NewZapLogger() *zap.Logger {
	if os.Getenv("restraint_testkit_log") == "1" {
		l, err := zap.NewDevelopment()
		if err != nil {
			panic(err)
		}
		return l
	}
	return zap.NewNop()
}
