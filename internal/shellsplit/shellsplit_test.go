// Copyright (C) 2020 The restraint Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package shellsplit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	args, err := Parse(`make run --verbose "with spaces"`)
	require.NoError(t, err)
	assert.Equal(t, []string{"make", "run", "--verbose", "with spaces"}, args)
}

func TestParseEmpty(t *testing.T) {
	args, err := Parse("")
	require.NoError(t, err)
	assert.Equal(t, []string{}, args)
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse(`"unterminated`)
	assert.Error(t, err)
}
