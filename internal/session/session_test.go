// Copyright (C) 2020 The restraint Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package session

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beakerlab/restraint/internal/engine"
)

func TestFromRecipeCapturesTaskStatus(t *testing.T) {
	recipe := &engine.Recipe{
		RecipeID:  "789",
		RecipeURI: "https://controller.example.com/",
		Tasks: []*engine.Task{
			{TaskID: "T1", Name: "/distribution/example", State: engine.StateComplete, ExpireTime: "Thu Jan 01 00:00:00 1970"},
			{TaskID: "T2", Name: "/distribution/other", State: engine.StateFail, Error: errors.New("boom")},
		},
	}

	savedAt := time.Unix(0, 0).UTC()
	snap := FromRecipe(recipe, savedAt)

	assert.Equal(t, "789", snap.RecipeID)
	assert.Equal(t, savedAt, snap.SavedAt)
	require.Len(t, snap.Tasks, 2)
	assert.Equal(t, "T1", snap.Tasks[0].TaskID)
	assert.Equal(t, engine.StateComplete, snap.Tasks[0].State)
	assert.Empty(t, snap.Tasks[0].Error)
	assert.Equal(t, "boom", snap.Tasks[1].Error)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	name := filepath.Join(t.TempDir(), "session.gob")

	recipe := &engine.Recipe{
		RecipeID: "789",
		Tasks: []*engine.Task{
			{TaskID: "T1", Name: "/distribution/example", State: engine.StateRunning},
		},
	}
	snap := FromRecipe(recipe, time.Unix(100, 0).UTC())

	require.NoError(t, Save(name, snap))

	loaded, err := Load(name)
	require.NoError(t, err)
	assert.Equal(t, snap, loaded)
}
