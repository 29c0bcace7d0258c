// Copyright (C) 2020 The restraint Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package engine implements the per-task execution state machine and its supervisory
// concurrency: fetch, metadata merge, environment build, watchdog extension, dependency
// install, and a pty-backed child run, coordinated by internal/eventloop and reported through
// internal/statusclient.
package engine

import (
	"time"

	"github.com/pkg/errors"

	"github.com/beakerlab/restraint/internal/eventloop"
)

// State is one stage of a Task's lifecycle.
type State string

const (
	StateIdle         State = "IDLE"
	StateFetch        State = "FETCH"
	StateFetching     State = "FETCHING"
	StateMetadata     State = "METADATA"
	StateEnv          State = "ENV"
	StateWatchdog     State = "WATCHDOG"
	StateDependencies State = "DEPENDENCIES"
	StateRun          State = "RUN"
	StateRunning      State = "RUNNING"
	StateComplete     State = "COMPLETE"
	StateFail         State = "FAIL"
	StateCancelled    State = "CANCELLED"

	// stateAborted is an internal sentinel set by the watchdog-expiry path. It is never observed
	// outside the engine package: onFinalize collapses it into StateFail, matching the original's
	// TASK_ABORTED.
	stateAborted State = "internal:ABORTED"
)

// DefaultEntryPoint is used when a task's metadata does not override it.
var DefaultEntryPoint = []string{"make", "run"}

// FetchKind tags a Task's fetch spec.
type FetchKind int

const (
	FetchUnpack FetchKind = iota
	FetchInstallPackage
)

// FetchSpec is the tagged union Fetch = Unpack(Url) | InstallPackage(Name).
type FetchSpec struct {
	Kind        FetchKind
	URL         string // set when Kind == FetchUnpack; scheme "git" or "http"
	PackageName string // set when Kind == FetchInstallPackage
}

// NameValue is an ordered name/value pair, used for params and roles (order matters for env
// precedence: POSIX lookup honors the last occurrence of a duplicate name).
type NameValue struct {
	Name  string
	Value string
}

// Handles holds the four event-source handles the supervisor registers around a running child.
// By invariant they are either all zero or all correspond to live eventloop sources.
type Handles struct {
	PTY       eventloop.Handle
	PID       eventloop.Handle
	Timeout   eventloop.Handle
	Heartbeat eventloop.Handle
}

// Cleared reports whether all four handles have been released.
func (h Handles) Cleared() bool {
	return h.PTY == 0 && h.PID == 0 && h.Timeout == 0 && h.Heartbeat == 0
}

// Recipe owns its tasks; the engine advances them sequentially, at most one active at a time.
type Recipe struct {
	JobID       string
	RecipeSetID string
	RecipeID    string
	RecipeURI   string // base URL for the /watchdog endpoint

	OSDistro  string
	OSMajor   string
	OSVariant string
	OSArch    string

	Roles  []NameValue
	Params []NameValue

	Tasks []*Task
}

// Task is a single unit of work in a Recipe.
type Task struct {
	// Identity.
	TaskID  string
	TaskURI string // base URL for /status and /results
	Name    string
	Path    string
	Order   int

	// Fetch spec.
	Fetch FetchSpec

	// Execution spec.
	EntryPoint   []string
	MaxTime      time.Duration
	RHTSCompat   bool
	Params       []NameValue
	Roles        []NameValue
	Dependencies []string

	// Runtime state.
	State      State
	PID        int
	PIDResult  eventloop.ChildResult
	Handles    Handles
	ExpireTime string
	expireAt   time.Time
	Error      error
	finalized  bool

	env       []string
	envFrozen bool

	// Recipe is a non-owning back-reference; the Recipe outlives all of its Tasks by
	// construction (it is never freed before them).
	Recipe *Recipe
}

// NewTask returns a Task with the documented defaults (entry point "make run", MaxTime from
// maxTimeDefault).
func NewTask(maxTimeDefault time.Duration) *Task {
	return &Task{
		State:      StateIdle,
		EntryPoint: append([]string{}, DefaultEntryPoint...),
		MaxTime:    maxTimeDefault,
	}
}

// Env returns the materialized environment vector. It is nil until the ENV state has run.
func (t *Task) Env() []string {
	return t.env
}

// freezeEnv sets the task's environment exactly once; subsequent calls are rejected per the
// "env is frozen once built" invariant.
func (t *Task) freezeEnv(env []string) error {
	if t.envFrozen {
		return errors.Errorf("task [%s]: env already frozen", t.TaskID)
	}
	t.env = env
	t.envFrozen = true
	return nil
}

// ReleaseHandles clears the four per-run handles. It does not itself deregister them from the
// loop; callers must do so (idempotently) before calling this, matching the "release before next
// task is selected" terminal-transition invariant.
func (t *Task) ReleaseHandles() {
	t.Handles = Handles{}
	t.PID = 0
}
