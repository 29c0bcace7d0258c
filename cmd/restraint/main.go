// Copyright (C) 2020 The restraint Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"github.com/pkg/errors"

	"github.com/beakerlab/restraint/cmd/restraint/root"
)

func main() {
	if err := root.NewCommand().Execute(); err != nil {
		panic(errors.Wrap(err, "failed to execute command"))
	}
}
