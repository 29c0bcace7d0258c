// Copyright (C) 2020 The restraint Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package engine

import (
	"context"
	"fmt"
)

// tick is the Engine's idle callback: it advances the current task by exactly one state per
// call, matching task_handler's one-state-per-invocation contract. It returns false (deregister)
// only once the task has entered RUNNING (the child-watch/timeout callbacks re-arm the idle
// handler from there) or the recipe has no more tasks.
func (e *Engine) tick() bool {
	task := e.current()
	if task == nil {
		return false
	}

	switch task.State {
	case StateIdle:
		e.emit(task, StreamStderr, fmt.Sprintf("** Fetching task: %s [%s]\n", task.TaskID, task.Path))
		task.State = StateFetch

	case StateFetch:
		if err := DispatchFetch(context.Background(), e.Fetcher, task); err != nil {
			task.Error = err
			task.State = StateFail
		} else {
			task.State = StateFetching
		}

	case StateFetching:
		task.State = StateMetadata

	case StateMetadata:
		e.emit(task, StreamStderr, "** Updating metadata\n")
		if err := e.MetadataMerger.MergeMetadata(task); err != nil {
			task.Error = err
			task.State = StateFail
		} else {
			task.State = StateEnv
		}

	case StateEnv:
		e.emit(task, StreamStderr, "** Updating env vars\n")
		env, err := BuildEnv(task, e.Config.EnvPrefix)
		if err == nil {
			err = task.freezeEnv(env)
		}
		if err != nil {
			task.Error = err
			task.State = StateFail
		} else {
			task.State = StateWatchdog
		}

	case StateWatchdog:
		e.emit(task, StreamStderr, "** Updating watchdog\n")
		seconds := int((task.MaxTime + e.Config.ExternalWatchdogGrace).Seconds())
		e.StatusClient.ExtendWatchdog(task.Recipe.RecipeURI, seconds)
		task.State = StateDependencies

	case StateDependencies:
		e.emit(task, StreamStderr, "** Installing dependencies\n")
		if err := e.DependencyInstaller.InstallDependencies(context.Background(), task); err != nil {
			task.Error = err
			task.State = StateFail
		} else {
			task.State = StateRun
		}

	case StateRun:
		e.emit(task, StreamStderr, fmt.Sprintf("** Running task: %s [%s]\n", task.TaskID, task.Name))
		if err := e.runSupervised(task); err != nil {
			task.Error = err
			task.State = StateFail
		} else {
			task.State = StateRunning
			return false
		}

	case StateRunning:
		return false

	case StateFail:
		if task.Error != nil {
			e.Log.Warn(task.Error.Error())
			e.emit(task, StreamStderr, fmt.Sprintf("** ERROR: %s\n", task.Error.Error()))
			e.StatusClient.ReportStatus(task.TaskID, task.TaskURI, "Aborted", task.Error.Error())
		}
		task.State = StateComplete

	case StateCancelled:
		e.emit(task, StreamStderr, fmt.Sprintf("** Cancelling Task: %s\n", task.TaskID))
		e.StatusClient.ReportStatus(task.TaskID, task.TaskURI, "Cancelled", "")
		return e.advance(StateCancelled)

	case StateComplete:
		e.emit(task, StreamStderr, fmt.Sprintf("** Completed Task: %s\n", task.TaskID))
		return e.advance(StateIdle)

	default:
		return true
	}

	return true
}
