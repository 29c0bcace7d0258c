// Copyright (C) 2020 The restraint Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package session snapshots observer-facing task status to a file for human operators — e.g. to
// resume watching a long-running recipe in a new console after reconnecting. It is never read
// back by the engine itself: the recipe's authoritative state lives only in the running process's
// *engine.Recipe.
package session

import (
	"encoding/gob"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/beakerlab/restraint/internal/engine"
)

// TaskSnapshot is the observer-facing status of a single task at the moment Save was called.
type TaskSnapshot struct {
	TaskID     string
	Name       string
	State      engine.State
	ExpireTime string
	Error      string
}

// Snapshot is the observer-facing status of an entire recipe run.
type Snapshot struct {
	RecipeID  string
	RecipeURI string
	SavedAt   time.Time
	Tasks     []TaskSnapshot
}

// FromRecipe builds a Snapshot from the current state of recipe. savedAt is passed in, rather
// than taken from time.Now, so callers control the timestamp (and tests stay deterministic).
func FromRecipe(recipe *engine.Recipe, savedAt time.Time) Snapshot {
	snap := Snapshot{
		RecipeID:  recipe.RecipeID,
		RecipeURI: recipe.RecipeURI,
		SavedAt:   savedAt,
	}
	for _, task := range recipe.Tasks {
		ts := TaskSnapshot{
			TaskID:     task.TaskID,
			Name:       task.Name,
			State:      task.State,
			ExpireTime: task.ExpireTime,
		}
		if task.Error != nil {
			ts.Error = task.Error.Error()
		}
		snap.Tasks = append(snap.Tasks, ts)
	}
	return snap
}

// Save gob-encodes snap to name, creating or truncating the file.
func Save(name string, snap Snapshot) error {
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return errors.Wrapf(err, "failed to open session file [%s] for writing", name)
	}
	defer f.Close()

	if err := gob.NewEncoder(f).Encode(snap); err != nil {
		return errors.Wrapf(err, "failed to encode session to file [%s]", name)
	}
	return nil
}

// Load decodes a Snapshot previously written by Save.
func Load(name string) (Snapshot, error) {
	f, err := os.Open(name) // #nosec G304
	if err != nil {
		return Snapshot{}, errors.Wrapf(err, "failed to open session file [%s] for reading", name)
	}
	defer f.Close()

	var snap Snapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return Snapshot{}, errors.Wrapf(err, "failed to decode session from file [%s]", name)
	}
	return snap, nil
}
