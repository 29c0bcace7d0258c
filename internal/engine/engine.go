// Copyright (C) 2020 The restraint Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/beakerlab/restraint/internal/eventloop"
	"github.com/beakerlab/restraint/internal/statusclient"
	"github.com/beakerlab/restraint/internal/zaptag"
)

// Stream tags an observed line of task output.
type Stream string

const (
	StreamStdout Stream = "STDOUT"
	StreamStderr Stream = "STDERR"
)

// Observer receives every line of task output plus the harness's own "**"-prefixed progress
// messages, matching connections_write's fan-out to every attached watch/stream client.
type Observer interface {
	Write(taskID string, stream Stream, line string)
}

// MetadataMerger updates a task's execution metadata (entry point, max time, dependencies,
// rhts_compat) from the fetched task tree, e.g. by parsing its metadata/testinfo.desc file.
type MetadataMerger interface {
	MergeMetadata(task *Task) error
}

// DependencyInstaller installs a task's declared dependencies (system packages directly,
// repodependencies via a nested fetch) before the task runs.
type DependencyInstaller interface {
	InstallDependencies(ctx context.Context, task *Task) error
}

// Config carries the knobs the state machine and supervisor need beyond a single task's own
// metadata.
type Config struct {
	// EnvPrefix is prepended to well-known env var names for non-RHTS-compat tasks.
	EnvPrefix string
	// ExternalWatchdogGrace ("EWD_TIME" in the original) pads the external watchdog deadline
	// beyond the task's own max time.
	ExternalWatchdogGrace time.Duration
	// HeartbeatInterval is how often the RUNNING state logs a "Current Time" progress line.
	HeartbeatInterval time.Duration
}

// DefaultConfig returns the documented defaults: "RSTRNT_" env prefix, a five-minute heartbeat,
// and a one-minute external watchdog grace.
func DefaultConfig() Config {
	return Config{
		EnvPrefix:             "RSTRNT_",
		ExternalWatchdogGrace: time.Minute,
		HeartbeatInterval:     300 * time.Second,
	}
}

// Engine drives one Recipe's tasks to completion, one at a time, over a Loop.
type Engine struct {
	Loop *eventloop.Loop
	Log  *zap.Logger

	StatusClient        *statusclient.Client
	Observers           Observer
	Fetcher             Fetcher
	MetadataMerger      MetadataMerger
	DependencyInstaller DependencyInstaller

	Config Config

	recipe *Recipe
	cursor int

	idleHandle eventloop.Handle
	done       chan struct{}
}

// New returns an Engine ready to Start once its collaborators are assigned.
func New(loop *eventloop.Loop, log *zap.Logger) *Engine {
	return &Engine{
		Loop:   loop,
		Log:    log.With(zaptag.Tag("engine")),
		Config: DefaultConfig(),
		done:   make(chan struct{}),
	}
}

// Start arms the idle handler driving recipe's tasks. It must be called at most once per Engine.
func (e *Engine) Start(recipe *Recipe) {
	e.recipe = recipe
	e.cursor = 0
	if len(recipe.Tasks) > 0 {
		recipe.Tasks[0].State = StateIdle
	} else {
		close(e.done)
		return
	}
	e.idleHandle = e.Loop.AddIdle(e.tick)
}

// Done is closed once every task in the recipe has reached a terminal state and the engine has no
// more idle work queued, matching RECIPE_COMPLETE.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Recipe returns the recipe passed to Start, or nil before Start is called. Callers (the console,
// session snapshots) must treat it as read-only; the engine itself is the only writer.
func (e *Engine) Recipe() *Recipe {
	return e.recipe
}

func (e *Engine) current() *Task {
	if e.recipe == nil || e.cursor >= len(e.recipe.Tasks) {
		return nil
	}
	return e.recipe.Tasks[e.cursor]
}

func (e *Engine) emit(task *Task, stream Stream, line string) {
	if e.Observers != nil {
		e.Observers.Write(task.TaskID, stream, line)
	}
}

// advance moves to the next task (if any) setting its State to nextState, or finishes the
// recipe. It returns whether the idle handler should keep running (true only when another task
// remains to process immediately).
func (e *Engine) advance(nextState State) bool {
	e.cursor++
	if e.cursor < len(e.recipe.Tasks) {
		e.recipe.Tasks[e.cursor].State = nextState
		return true
	}
	close(e.done)
	return false
}

// Cancel marks the current task CANCELLED. If it is mid-run, the child is killed immediately so
// the state machine can converge; otherwise the next idle tick notices the new state directly.
// Once one task is cancelled, advance(StateCancelled) propagates cancellation to every remaining
// task in the recipe rather than letting them run.
func (e *Engine) Cancel() {
	task := e.current()
	if task == nil {
		return
	}
	task.State = StateCancelled
	if !task.Handles.Cleared() {
		_ = killProcess(task.PID)
	}
}
