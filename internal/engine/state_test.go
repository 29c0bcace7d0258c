// Copyright (C) 2020 The restraint Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/beakerlab/restraint/internal/testkit"

	"github.com/beakerlab/restraint/internal/eventloop"
	"github.com/beakerlab/restraint/internal/statusclient"
)

type recordingObserver struct {
	mu    sync.Mutex
	lines []string
}

func (o *recordingObserver) Write(taskID string, stream Stream, line string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lines = append(o.lines, line)
}

func (o *recordingObserver) all() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.lines...)
}

type fakeMetadataMerger struct{ err error }

func (m *fakeMetadataMerger) MergeMetadata(task *Task) error { return m.err }

type fakeDependencyInstaller struct{ err error }

func (d *fakeDependencyInstaller) InstallDependencies(ctx context.Context, task *Task) error {
	return d.err
}

func newTestEngine(t *testing.T) (*Engine, *recordingObserver, *fakeFetcher) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	e := New(eventloop.New(), testkit.NewZapLogger())
	obs := &recordingObserver{}
	fetcher := &fakeFetcher{}
	e.Observers = obs
	e.Fetcher = fetcher
	e.MetadataMerger = &fakeMetadataMerger{}
	e.DependencyInstaller = &fakeDependencyInstaller{}
	e.StatusClient = statusclient.New(testkit.NewZapLogger())

	recipe := &Recipe{RecipeURI: srv.URL + "/", Tasks: []*Task{{
		TaskID:     "T1",
		TaskURI:    srv.URL + "/",
		Name:       "/distribution/example",
		Path:       t.TempDir(),
		EntryPoint: []string{"true"},
		Fetch:      FetchSpec{Kind: FetchUnpack, URL: "git://example.com/tests.git"},
		State:      StateIdle,
	}}}
	recipe.Tasks[0].Recipe = recipe
	e.recipe = recipe

	return e, obs, fetcher
}

func TestTickDrivesSetupStates(t *testing.T) {
	e, obs, fetcher := newTestEngine(t)
	task := e.current()

	assert.True(t, e.tick()) // IDLE -> FETCH
	assert.Equal(t, StateFetch, task.State)

	assert.True(t, e.tick()) // FETCH -> FETCHING
	assert.Equal(t, StateFetching, task.State)
	assert.True(t, fetcher.gitCalled)

	assert.True(t, e.tick()) // FETCHING -> METADATA
	assert.Equal(t, StateMetadata, task.State)

	assert.True(t, e.tick()) // METADATA -> ENV
	assert.Equal(t, StateEnv, task.State)

	assert.True(t, e.tick()) // ENV -> WATCHDOG
	assert.Equal(t, StateWatchdog, task.State)
	require.NotNil(t, task.Env())
	assert.Contains(t, task.Env(), "HOME=/root")

	assert.True(t, e.tick()) // WATCHDOG -> DEPENDENCIES
	assert.Equal(t, StateDependencies, task.State)

	lines := obs.all()
	assert.Contains(t, lines, "** Fetching task: T1 ["+task.Path+"]\n")
	assert.Contains(t, lines, "** Updating metadata\n")
	assert.Contains(t, lines, "** Updating env vars\n")
	assert.Contains(t, lines, "** Updating watchdog\n")
}

func TestTickFetchFailureGoesToFail(t *testing.T) {
	e, _, fetcher := newTestEngine(t)
	fetcher.err = assertErr{"network exploded"}
	task := e.current()
	task.State = StateFetch

	assert.True(t, e.tick())
	assert.Equal(t, StateFail, task.State)
	require.Error(t, task.Error)
}

func TestTickFailReportsAbortedAndCompletes(t *testing.T) {
	e, obs, _ := newTestEngine(t)
	task := e.current()
	task.State = StateFail
	task.Error = assertErr{"boom"}

	assert.True(t, e.tick())
	assert.Equal(t, StateComplete, task.State)
	assert.Contains(t, obs.all(), "** ERROR: boom\n")
}

func TestTickCompleteAdvancesOrFinishesRecipe(t *testing.T) {
	e, _, _ := newTestEngine(t)
	task := e.current()
	task.State = StateComplete

	assert.False(t, e.tick()) // only task in recipe -> recipe complete
	select {
	case <-e.Done():
	default:
		t.Fatal("Done() should be closed once the last task completes")
	}
}

func TestTickCancelledPropagatesToRemainingTasks(t *testing.T) {
	e, _, _ := newTestEngine(t)
	second := &Task{TaskID: "T2", TaskURI: e.current().TaskURI, State: StateIdle, Recipe: e.recipe}
	e.recipe.Tasks = append(e.recipe.Tasks, second)

	e.current().State = StateCancelled
	assert.True(t, e.tick())
	assert.Equal(t, StateCancelled, second.State)
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
