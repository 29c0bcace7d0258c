// Copyright (C) 2020 The restraint Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package eventloop provides a single-threaded cooperative dispatcher with four source kinds —
// idle callbacks, child-exit watches, fd-readable watches, and monotonic timeouts — in the spirit
// of GLib's GMainContext, which the original restraint task runner was built on. Background
// goroutines only ever block on an OS-level primitive (process wait, fd read, a timer channel);
// the actual callback logic always runs serially on the single goroutine that calls Run, so
// callbacks never interleave and never need their own locking.
package eventloop

import (
	"sync"
	"time"

	"github.com/beakerlab/restraint/internal/clock"
)

// Handle identifies a registered source. Removing a zero or already-cleared Handle is a no-op.
type Handle uint64

// ChildResult describes a terminated child process, decoded from its raw wait status.
type ChildResult struct {
	ExitCode int
	Signal   int
	// Raw is the platform wait status, preserved for callers/tests that want the historical
	// "non-zero %i" form described in SPEC_FULL.md §12.
	Raw int
}

// Exited reports whether the child exited with status 0 and no signal.
func (r ChildResult) Exited() bool {
	return r.Signal == 0 && r.ExitCode == 0
}

type source struct {
	removed bool
}

// Loop is not safe for concurrent use by multiple goroutines other than via its own Add*/Remove
// methods and the queued callback execution; all registration methods are safe to call from any
// goroutine, but only one goroutine (the one running Run) ever executes callback bodies.
type Loop struct {
	Clock clock.Clock

	mu      sync.Mutex
	sources map[Handle]*source
	nextID  uint64

	queue  chan func()
	closed chan struct{}
	once   sync.Once
}

// New returns a Loop ready to register sources and Run.
func New() *Loop {
	return &Loop{
		Clock:   clock.RealClock{},
		sources: make(map[Handle]*source),
		queue:   make(chan func(), 64),
		closed:  make(chan struct{}),
	}
}

func (l *Loop) alloc() (Handle, *source) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	h := Handle(l.nextID)
	s := &source{}
	l.sources[h] = s
	return h, s
}

func (l *Loop) isLive(h Handle) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sources[h]
	return ok && !s.removed
}

// Remove deregisters h. It is idempotent: removing an unknown or already-removed Handle is a
// no-op and returns false.
func (l *Loop) Remove(h Handle) bool {
	if h == 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sources[h]
	if !ok || s.removed {
		return false
	}
	s.removed = true
	delete(l.sources, h)
	return true
}

// post enqueues fn for execution on the Run goroutine. It is a no-op once the loop is closed.
func (l *Loop) post(fn func()) {
	select {
	case l.queue <- fn:
	case <-l.closed:
	}
}

// AddIdle registers a callback invoked whenever the loop has nothing else queued. Returning true
// keeps it armed (it is re-queued after running); returning false deregisters it.
//
// Fairness note: a strict GLib-style idle source only runs when no other source is ready. This
// loop instead serializes all sources (idle included) through one FIFO queue and re-enqueues an
// armed idle callback at the tail after it runs, which approximates "runs when nothing else is
// pending" closely enough for a harness that drives at most one task at a time — see
// SPEC_FULL.md's Design Notes on cooperative blocking.
func (l *Loop) AddIdle(cb func() bool) Handle {
	h, _ := l.alloc()
	var run func()
	run = func() {
		if !l.isLive(h) {
			return
		}
		if cb() {
			l.post(run)
		} else {
			l.Remove(h)
		}
	}
	l.post(run)
	return h
}

// AddTimeout fires cb after d. Returning true re-arms for another d; returning false deregisters
// it.
func (l *Loop) AddTimeout(d time.Duration, cb func() bool) Handle {
	h, _ := l.alloc()
	var arm func()
	arm = func() {
		if !l.isLive(h) {
			return
		}
		timer := l.Clock.NewTimer(d)
		go func() {
			select {
			case <-timer.C():
				l.post(func() {
					if !l.isLive(h) {
						return
					}
					if cb() {
						arm()
					} else {
						l.Remove(h)
					}
				})
			case <-l.closed:
				timer.Stop()
			}
		}()
	}
	arm()
	return h
}

// AddChildWatch runs wait (expected to block until the child exits) in its own goroutine, then
// delivers its ChildResult to cb on the loop goroutine, followed unconditionally by finalize —
// mirroring g_child_watch_add_full's separate "notify" and "destroy" callbacks, where finalize
// always runs even if cb was never invoked due to removal in the interim.
func (l *Loop) AddChildWatch(wait func() ChildResult, cb func(ChildResult), finalize func()) Handle {
	h, _ := l.alloc()
	go func() {
		res := wait()
		l.post(func() {
			if l.isLive(h) {
				cb(res)
				l.Remove(h)
			}
			finalize()
		})
	}()
	return h
}

// FDReader is the subset of *os.File used by AddFDWatch, narrowed for testability.
type FDReader interface {
	Read([]byte) (int, error)
}

// AddFDWatch line-buffers reads from r and delivers each line to cb on the loop goroutine. cb
// returning false, or EOF/error on r, ends the watch; onDone is then called with the terminal
// read error (io.EOF on clean end of input), or with nil when cb returned false.
func (l *Loop) AddFDWatch(r FDReader, cb func(line string) bool, onDone func(err error)) Handle {
	h, _ := l.alloc()
	go func() {
		reader := newLineReader(r)
		for {
			line, err := reader.ReadLine()
			if err != nil {
				l.post(func() {
					l.Remove(h)
					onDone(err)
				})
				return
			}
			done := make(chan bool, 1)
			l.post(func() {
				if !l.isLive(h) {
					done <- false
					return
				}
				done <- cb(line)
			})
			if !<-done {
				l.post(func() {
					l.Remove(h)
					onDone(nil)
				})
				return
			}
		}
	}()
	return h
}

// Run processes queued callbacks until Stop is called. It must be invoked from exactly one
// goroutine.
func (l *Loop) Run() {
	for {
		select {
		case fn := <-l.queue:
			fn()
		case <-l.closed:
			return
		}
	}
}

// Stop ends Run and prevents further callback execution; already-running background goroutines
// observe it via the closed channel and exit without posting further work.
func (l *Loop) Stop() {
	l.once.Do(func() {
		close(l.closed)
	})
}
