// Copyright (C) 2020 The restraint Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package clock

import (
	"sync"
	std_time "time"
)

// Fake is a hand-written substitute for a mockery-generated mock: tests construct one, advance it
// with Advance, and assert on the timers it handed out.
type Fake struct {
	mu     sync.Mutex
	now    std_time.Time
	timers []*FakeTimer
}

// NewFake returns a Fake anchored at now.
func NewFake(now std_time.Time) *Fake {
	return &Fake{now: now}
}

func (f *Fake) Now() std_time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) NewTimer(d std_time.Duration) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &FakeTimer{deadline: f.now.Add(d), ch: make(chan std_time.Time, 1)}
	f.timers = append(f.timers, t)
	return t
}

// Advance moves the clock forward and fires any FakeTimer whose deadline has passed.
func (f *Fake) Advance(d std_time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	for _, t := range f.timers {
		t.maybeFire(f.now)
	}
}

var _ Clock = (*Fake)(nil)

// FakeTimer is handed out by Fake.NewTimer.
type FakeTimer struct {
	mu       sync.Mutex
	deadline std_time.Time
	stopped  bool
	fired    bool
	ch       chan std_time.Time
}

func (t *FakeTimer) maybeFire(now std_time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fired {
		return
	}
	if !now.Before(t.deadline) {
		t.fired = true
		select {
		case t.ch <- now:
		default:
		}
	}
}

func (t *FakeTimer) Reset(d std_time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasActive := !t.stopped && !t.fired
	t.stopped = false
	t.fired = false
	t.deadline = t.deadline.Add(d)
	return wasActive
}

func (t *FakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasActive := !t.stopped && !t.fired
	t.stopped = true
	return wasActive
}

func (t *FakeTimer) C() <-chan std_time.Time {
	return t.ch
}

var _ Timer = (*FakeTimer)(nil)
