// Copyright (C) 2020 The restraint Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package engine

import (
	"testing"
	std_time "time"

	"github.com/stretchr/testify/require"
	"github.com/beakerlab/restraint/internal/testkit"

	"github.com/beakerlab/restraint/internal/clock"
	"github.com/beakerlab/restraint/internal/errkind"
	"github.com/beakerlab/restraint/internal/eventloop"
	"github.com/beakerlab/restraint/internal/statusclient"
)

// runOneTask waits for a single-task engine's recipe to complete, with a generous deadline so a
// hung supervisor fails the test instead of hanging the suite.
func runOneTask(t *testing.T, e *Engine) {
	t.Helper()
	select {
	case <-e.Done():
	case <-std_time.After(10 * std_time.Second):
		t.Fatal("recipe never completed")
	}
}

func newRunEngine(t *testing.T, entryPoint []string) *Engine {
	t.Helper()
	loop := eventloop.New()
	go loop.Run()
	t.Cleanup(loop.Stop)

	e := New(loop, testkit.NewZapLogger())
	e.Observers = &recordingObserver{}
	e.Fetcher = &fakeFetcher{}
	e.MetadataMerger = &fakeMetadataMerger{}
	e.DependencyInstaller = &fakeDependencyInstaller{}
	e.StatusClient = statusclient.New(testkit.NewZapLogger())
	e.Config.HeartbeatInterval = std_time.Hour

	recipe := &Recipe{Tasks: []*Task{{
		TaskID:     "T1",
		Name:       "/distribution/example",
		Path:       t.TempDir(),
		EntryPoint: entryPoint,
		MaxTime:    std_time.Minute,
		Fetch:      FetchSpec{Kind: FetchUnpack, URL: "git://example.com/tests.git"},
		State:      StateIdle,
	}}}
	recipe.Tasks[0].Recipe = recipe
	e.Start(recipe)
	return e
}

func TestSupervisorRunsToCompletion(t *testing.T) {
	e := newRunEngine(t, []string{"true"})
	runOneTask(t, e)

	task := e.recipe.Tasks[0]
	require.Equal(t, StateComplete, task.State)
	require.Nil(t, task.Error)
	require.True(t, task.Handles.Cleared())
}

func TestSupervisorRecordsNonZeroExit(t *testing.T) {
	e := newRunEngine(t, []string{"false"})
	runOneTask(t, e)

	task := e.recipe.Tasks[0]
	require.Equal(t, StateComplete, task.State)
	require.Error(t, task.Error)
	require.True(t, errkind.Is(task.Error, errkind.RCError))
}

func TestSupervisorLocalWatchdogKillsChild(t *testing.T) {
	fake := clock.NewFake(std_time.Unix(0, 0))
	loop := eventloop.New()
	loop.Clock = fake
	go loop.Run()
	t.Cleanup(loop.Stop)

	e := New(loop, testkit.NewZapLogger())
	e.Observers = &recordingObserver{}
	e.Fetcher = &fakeFetcher{}
	e.MetadataMerger = &fakeMetadataMerger{}
	e.DependencyInstaller = &fakeDependencyInstaller{}
	e.StatusClient = statusclient.New(testkit.NewZapLogger())
	e.Config.HeartbeatInterval = std_time.Hour

	recipe := &Recipe{Tasks: []*Task{{
		TaskID:     "T1",
		Name:       "/distribution/sleeper",
		Path:       t.TempDir(),
		EntryPoint: []string{"sleep", "300"},
		MaxTime:    5 * std_time.Second,
		Fetch:      FetchSpec{Kind: FetchUnpack, URL: "git://example.com/tests.git"},
		State:      StateIdle,
	}}}
	recipe.Tasks[0].Recipe = recipe
	e.Start(recipe)

	// Give the setup states (which run synchronously through the idle handler) time to reach
	// RUNNING before advancing the fake clock past the watchdog deadline.
	std_time.Sleep(100 * std_time.Millisecond)
	fake.Advance(5 * std_time.Second)

	runOneTask(t, e)

	task := recipe.Tasks[0]
	require.Equal(t, StateComplete, task.State)
	require.Error(t, task.Error)
	require.True(t, errkind.Is(task.Error, errkind.WatchdogError))
}
