// Copyright (C) 2020 The restraint Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package errkind models the typed error domains the original C implementation split across
// GQuark values (restraint-task-runner-error, restraint-task-fetch-error,
// restraint-task-fetch-libarchive-error-quark): one Go error type per domain, carrying a Kind so
// callers can branch on failure category (report_status's "Aborted" message, the supervisor's
// watchdog bookkeeping) without string matching.
package errkind

import "fmt"

// Domain groups related Kind values, mirroring the three separate GQuark domains in the original.
type Domain string

const (
	DomainTaskRunner      Domain = "task-runner"
	DomainFetch           Domain = "fetch"
	DomainFetchLibarchive Domain = "fetch-libarchive"
)

// Kind identifies the specific failure category within a Domain.
type Kind string

const (
	// ForkError means the supervisor could not fork the child under a pty.
	ForkError Kind = "FORK_ERROR"

	// ChdirError means the child could not chdir into task.path before exec.
	ChdirError Kind = "CHDIR_ERROR"

	// StderrError is reserved for stderr-redirection failures; the original's save/restore of the
	// parent's stderr around fork is dead code (see SPEC_FULL.md §13), so this is never raised by
	// the supervisor today, only kept for interface parity.
	StderrError Kind = "STDERR_ERROR"

	// RCError means the child exited non-zero for ordinary reasons (no watchdog/cancel involved).
	RCError Kind = "RC_ERROR"

	// WatchdogError means the local watchdog fired, with Reason distinguishing why.
	WatchdogError Kind = "WATCHDOG_ERROR"

	// FetchError covers DomainFetch failures: unknown fetch kind, an unsupported/unparseable
	// unpack URL scheme, or an invalid package name. The original splits fetch failures across
	// restraint-task-fetch-error and restraint-task-fetch-libarchive-error quarks; this Kind
	// collapses both into the single category DispatchFetch itself can raise before ever handing
	// off to a Fetcher implementation.
	FetchError Kind = "FETCH_ERROR"
)

// WatchdogReason distinguishes the three ways a WatchdogError can arise.
type WatchdogReason string

const (
	WatchdogKillSucceeded WatchdogReason = "kill_succeeded"
	WatchdogKillFailed    WatchdogReason = "kill_failed"
	WatchdogCancelled     WatchdogReason = "cancelled"
)

// Error is the concrete type returned by engine code for any Kind.
type Error struct {
	Domain Domain
	Kind   Kind
	// Reason is populated only for WatchdogError; empty otherwise.
	Reason WatchdogReason

	msg string
}

func (e *Error) Error() string {
	return e.msg
}

// New constructs an Error in Domain/Kind with a formatted message.
func New(domain Domain, kind Kind, format string, args ...interface{}) *Error {
	return &Error{Domain: domain, Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// NewWatchdog constructs a WatchdogError with its Reason set.
func NewWatchdog(reason WatchdogReason, format string, args ...interface{}) *Error {
	return &Error{Domain: DomainTaskRunner, Kind: WatchdogError, Reason: reason, msg: fmt.Sprintf(format, args...)}
}

// Is reports whether err is an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}

var _ error = (*Error)(nil)
