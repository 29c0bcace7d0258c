// Copyright (C) 2020 The restraint Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package durationfmt formats durations for humans: the heartbeat's "time remaining" detail and
// CLI-facing summaries.
package durationfmt

import (
	std_time "time"

	"github.com/hako/durafmt"
)

// Short renders a duration compactly, e.g. "1h2m3s" collapsed to its largest useful units.
func Short(d std_time.Duration) string {
	// durafmt panics on sub-millisecond durations; collapse those to zero, matching the teacher's
	// workaround for early-exit timed operations.
	if d < std_time.Millisecond {
		d = 0
	}
	return durafmt.ParseShort(d).String()
}

// CTime renders t the way task_heartbeat_callback's strftime("%a %b %d %H:%M:%S %Y") did: a
// zero-padded (not space-padded) day, distinguishing it from the C library's own ctime() default.
func CTime(t std_time.Time) string {
	return t.Format("Mon Jan 02 15:04:05 2006")
}
