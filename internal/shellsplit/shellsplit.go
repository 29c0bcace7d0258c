// Copyright (C) 2020 The restraint Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package shellsplit turns a metadata-sourced command string into an argv vector, for tasks whose
// entry point arrives as a single shell string rather than a pre-split list.
package shellsplit

import (
	shellwords "github.com/mattn/go-shellwords"
	"github.com/pkg/errors"
)

// Parse splits s into a single argv vector. Pipelines ("|") are not meaningful for a task entry
// point (the child is exec'd directly, not run through a shell), so unlike a general-purpose
// pipeline parser this returns one argv, and a literal "|" is treated as an ordinary argument
// unless the caller pre-splits pipeline stages itself.
func Parse(s string) (args []string, err error) {
	parser := shellwords.NewParser()
	parser.ParseEnv = true // expand $VAR from this process's environment at parse time, not the task's env

	args, err = parser.Parse(s)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse entry point [%s]", s)
	}
	if args == nil {
		args = []string{}
	}
	return args, nil
}
