// Copyright (C) 2020 The restraint Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package clock provides a mockable substitute for time.Now/time.NewTimer so that timeout- and
// heartbeat-driven behavior (internal/eventloop, internal/engine) can be tested without sleeping
// in real time.
package clock

import (
	std_time "time"
)

// Clock is implemented by RealClock for production use and by a fake in tests.
type Clock interface {
	Now() std_time.Time
	NewTimer(std_time.Duration) Timer
}

// Timer is implemented by RealTimer for production use and by a fake in tests.
type Timer interface {
	Reset(std_time.Duration) bool
	Stop() bool
	C() <-chan std_time.Time
}

// RealClock delegates to the standard library.
type RealClock struct{}

// Now returns the current UTC time.
func (RealClock) Now() std_time.Time {
	return std_time.Now().UTC()
}

// NewTimer starts a real timer.
func (RealClock) NewTimer(d std_time.Duration) Timer {
	return &RealTimer{t: std_time.NewTimer(d)}
}

var _ Clock = RealClock{}

// RealTimer wraps *time.Timer.
type RealTimer struct {
	t *std_time.Timer
}

func (r *RealTimer) Reset(d std_time.Duration) bool {
	return r.t.Reset(d)
}

func (r *RealTimer) Stop() bool {
	return r.t.Stop()
}

func (r *RealTimer) C() <-chan std_time.Time {
	return r.t.C
}

var _ Timer = (*RealTimer)(nil)
