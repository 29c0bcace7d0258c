// Copyright (C) 2020 The restraint Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package engine

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/beakerlab/restraint/internal/durationfmt"
	"github.com/beakerlab/restraint/internal/errkind"
	"github.com/beakerlab/restraint/internal/eventloop"
	"github.com/beakerlab/restraint/internal/metrics"
)

// winsize is the pty geometry task_run hard-coded: 80x24 with the original's 480x192 pixel
// dimensions, which most terminal consumers ignore but some (ncurses apps probing COLUMNS/LINES
// indirectly) still read.
var winsize = &pty.Winsize{Cols: 80, Rows: 24, X: 480, Y: 192}

// runSupervised forks task.EntryPoint under a pty in task.Path with task.Env, then registers the
// four event sources that drive it to a terminal state: a line-buffered pty-output watch, a
// child-exit watch, a local-watchdog timeout, and a heartbeat timeout. It returns promptly once
// those are registered; the task transitions to RUNNING and the idle handler stands down until
// the child-watch's finalize callback re-arms it.
func (e *Engine) runSupervised(task *Task) error {
	if fi, err := os.Stat(task.Path); err != nil || !fi.IsDir() {
		return errkind.New(errkind.DomainTaskRunner, errkind.ChdirError, "Failed to chdir() to %s", task.Path)
	}

	cmd := exec.Command(task.EntryPoint[0], task.EntryPoint[1:]...)
	cmd.Dir = task.Path
	cmd.Env = task.Env()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	ptmx, err := pty.StartWithSize(cmd, winsize)
	if err != nil {
		return errkind.New(errkind.DomainTaskRunner, errkind.ForkError, "Failed to fork!")
	}

	task.PID = cmd.Process.Pid

	now := e.Loop.Clock.Now()
	task.expireAt = now.Add(task.MaxTime)
	task.ExpireTime = durationfmt.CTime(task.expireAt)

	task.Handles.PTY = e.Loop.AddFDWatch(ptmx, func(line string) bool {
		e.emit(task, StreamStdout, line+"\n")
		return true
	}, func(err error) {
		task.Handles.PTY = 0
		_ = ptmx.Close()
		if err != nil && err != io.EOF {
			e.Log.Debug("pty io error", zap.Error(err))
		} else {
			e.Log.Debug("finished!")
		}
	})

	task.Handles.PID = e.Loop.AddChildWatch(
		func() eventloop.ChildResult { return decodeWait(cmd) },
		func(res eventloop.ChildResult) { e.onChildExit(task, res) },
		func() { e.onFinalize(task) },
	)

	task.Handles.Timeout = e.Loop.AddTimeout(task.MaxTime, func() bool {
		e.onWatchdogExpire(task)
		return false
	})

	task.Handles.Heartbeat = e.Loop.AddTimeout(e.Config.HeartbeatInterval, func() bool {
		e.emit(task, StreamStderr, fmt.Sprintf("*** Current Time: %s Localwatchdog at: %s\n",
			durationfmt.CTime(e.Loop.Clock.Now()), task.ExpireTime))
		e.Log.Debug("task time remaining",
			zap.String("task_id", task.TaskID),
			zap.String("remaining", durationfmt.Short(task.expireAt.Sub(e.Loop.Clock.Now()))))
		return true
	})

	return nil
}

// onWatchdogExpire fires once the local watchdog's max_time has elapsed. A successful kill marks
// the task as watchdog-aborted (stateAborted, collapsed to FAIL by onFinalize once the child-watch
// goroutine observes the exit). A failed kill stops waiting on the child, since it may never exit
// on its own, and calls onFinalize directly so the task still reaches a terminal state and
// Aborted report rather than stalling forever — mirroring g_source_remove's destroy-notify firing
// immediately on removal in the original, instead of waiting on a wait() that may never return.
func (e *Engine) onWatchdogExpire(task *Task) {
	if err := killProcess(task.PID); err == nil {
		task.State = stateAborted
	} else {
		task.Error = errkind.NewWatchdog(errkind.WatchdogKillFailed,
			"Local watchdog expired! But we failed to kill %d with %d", task.PID, int(syscall.SIGKILL))
		e.Log.Warn(task.Error.Error())
		if task.Handles.PID != 0 {
			e.Loop.Remove(task.Handles.PID)
			task.Handles.PID = 0
		}
		e.onFinalize(task)
		return
	}
	if task.Handles.Heartbeat != 0 {
		e.Loop.Remove(task.Handles.Heartbeat)
		task.Handles.Heartbeat = 0
	}
	task.Handles.Timeout = 0
}

// onChildExit records the child's wait result and, for a non-clean exit, attributes it to
// whichever of the three causes applies: the local watchdog, a user cancellation, or an ordinary
// non-zero return.
func (e *Engine) onChildExit(task *Task, res eventloop.ChildResult) {
	task.PIDResult = res
	if res.Exited() {
		return
	}
	switch task.State {
	case stateAborted:
		task.Error = errkind.NewWatchdog(errkind.WatchdogKillSucceeded,
			"Local watchdog expired! Killed %d with %d", task.PID, int(syscall.SIGKILL))
	case StateCancelled:
		task.Error = errkind.NewWatchdog(errkind.WatchdogCancelled,
			"Cancelled by user! Killed %d with %d", task.PID, int(syscall.SIGKILL))
	default:
		task.Error = errkind.New(errkind.DomainTaskRunner, errkind.RCError,
			"%s returned non-zero %d", task.EntryPoint[0], res.ExitCode)
	}
}

// onFinalize always runs once the child-watch source is torn down, whether or not onChildExit
// ran. It releases the heartbeat/timeout handles, settles the task's terminal state (leaving
// CANCELLED alone, since that was set by the caller and means "skip the rest of the recipe too"),
// and re-arms the idle handler to resume the state machine. Idempotent: onWatchdogExpire may
// invoke it directly when a kill fails and the child may never exit on its own, in which case the
// child-watch goroutine's own eventual finalize call (if the child does exit later) must be a
// no-op rather than re-arming the idle handler a second time.
func (e *Engine) onFinalize(task *Task) {
	if task.finalized {
		return
	}
	task.finalized = true

	if task.Handles.Heartbeat != 0 {
		e.Loop.Remove(task.Handles.Heartbeat)
	}
	if task.Handles.Timeout != 0 {
		e.Loop.Remove(task.Handles.Timeout)
	}
	task.ReleaseHandles()

	if task.State != StateCancelled {
		if task.Error != nil {
			task.State = StateFail
		} else {
			task.State = StateComplete
		}
	}

	switch task.State {
	case StateComplete:
		metrics.ObserveTaskOutcome(metrics.OutcomeComplete)
	case StateFail:
		metrics.ObserveTaskOutcome(metrics.OutcomeFail)
	case StateCancelled:
		metrics.ObserveTaskOutcome(metrics.OutcomeCancelled)
	}

	e.idleHandle = e.Loop.AddIdle(e.tick)
}

// decodeWait blocks on cmd.Wait() and translates the resulting ProcessState into a ChildResult.
func decodeWait(cmd *exec.Cmd) eventloop.ChildResult {
	_ = cmd.Wait()
	ps := cmd.ProcessState
	if ps == nil {
		return eventloop.ChildResult{ExitCode: -1}
	}
	ws, ok := ps.Sys().(syscall.WaitStatus)
	if !ok {
		return eventloop.ChildResult{ExitCode: ps.ExitCode()}
	}
	res := eventloop.ChildResult{Raw: int(ws)}
	if ws.Signaled() {
		res.Signal = int(ws.Signal())
	} else {
		res.ExitCode = ws.ExitStatus()
	}
	return res
}

func killProcess(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	return syscall.Kill(pid, syscall.SIGKILL)
}

// heartbeatDefault mirrors the original's hard-coded 300-second interval; Config.HeartbeatInterval
// defaults to it but can be shortened in tests.
const heartbeatDefault = 300 * time.Second
