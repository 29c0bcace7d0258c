// Copyright (C) 2020 The restraint Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package observer fans a task's STDOUT/STDERR lines out to connected observers, the way
// codeactual-boone/internal/cage/os/file/watcher.Fsnotify fans filesystem events out to its
// Subscriber list. It also offers an optional artifact tailer so late-arriving writes to a
// result-artifact file reach the same observers as the child's own pty output.
package observer

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/beakerlab/restraint/internal/engine"
	"github.com/beakerlab/restraint/internal/zaptag"
)

// Line is one unit of broadcast output.
type Line struct {
	TaskID string
	Stream engine.Stream
	Text   string
}

// Connection implementations receive every Line broadcast by a Registry, the way
// watcher.Subscriber receives every filesystem Event.
type Connection interface {
	Receive(Line)
}

// Registry is the process-wide observer-connection registry: AppData's shared broadcast point
// in the original, reborn as a concurrency-safe fan-out that also satisfies engine.Observer so
// the supervisor can write to it directly.
type Registry struct {
	log *zap.Logger

	mu    sync.RWMutex
	conns []Connection

	watcher *fsnotify.Watcher
	tails   map[string]*tail
	done    chan struct{}
}

// NewRegistry returns an empty Registry. The fsnotify watcher is created lazily, on the first
// call to WatchArtifact, matching Fsnotify.AddPath's lazy-init of its own watcher.
func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		log:   log.With(zaptag.Tag("observer")),
		tails: make(map[string]*tail),
	}
}

// AddConnection registers c to receive every subsequent Line.
func (r *Registry) AddConnection(c Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns = append(r.conns, c)
}

// RemoveConnection deregisters c. A no-op if c was never added.
func (r *Registry) RemoveConnection(c Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.conns {
		if existing == c {
			r.conns = append(r.conns[:i], r.conns[i+1:]...)
			return
		}
	}
}

// Write satisfies engine.Observer: it broadcasts one line of pty output to every connection.
func (r *Registry) Write(taskID string, stream engine.Stream, line string) {
	r.broadcast(Line{TaskID: taskID, Stream: stream, Text: line})
}

func (r *Registry) broadcast(line Line) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.conns {
		c.Receive(line)
	}
}

// WatchArtifact tails path for appended lines and broadcasts each as StreamStdout output
// attributed to taskID, so a result artifact that a task writes after its own pty output has
// trailed off still reaches observers.
func (r *Registry) WatchArtifact(taskID, path string) (err error) {
	if r.watcher == nil {
		r.watcher, err = fsnotify.NewWatcher()
		if err != nil {
			return errors.Wrap(err, "failed to create artifact watcher")
		}
		r.done = make(chan struct{})
		go r.monitor()
	}

	path, err = filepath.Abs(path)
	if err != nil {
		return errors.Wrapf(err, "failed to get absolute path of [%s]", path)
	}

	t, err := newTail(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open artifact [%s]", path)
	}
	t.taskID = taskID

	r.mu.Lock()
	r.tails[path] = t
	r.mu.Unlock()

	if err := r.watcher.Add(path); err != nil {
		return errors.Wrapf(err, "failed to watch artifact [%s]", path)
	}
	return nil
}

// Close stops the artifact watcher, if one was started, and releases its tailed files.
func (r *Registry) Close() error {
	if r.watcher == nil {
		return nil
	}
	close(r.done)
	r.mu.Lock()
	for _, t := range r.tails {
		_ = t.file.Close()
	}
	r.mu.Unlock()
	return errors.Wrap(r.watcher.Close(), "failed to close artifact watcher")
}

func (r *Registry) monitor() {
	for {
		select {
		case <-r.done:
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Write != fsnotify.Write {
				continue
			}
			r.drain(event.Name)
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.log.Warn("artifact watcher error", zap.Error(err))
		}
	}
}

func (r *Registry) drain(path string) {
	r.mu.RLock()
	t := r.tails[path]
	r.mu.RUnlock()
	if t == nil {
		return
	}

	lines, err := t.readNewLines()
	if err != nil {
		r.log.Warn("failed to read artifact growth", zap.String("path", path), zap.Error(err))
		return
	}
	for _, line := range lines {
		r.broadcast(Line{TaskID: t.taskID, Stream: engine.StreamStdout, Text: line})
	}
}

// tail tracks a read cursor into a single artifact file, positioned at EOF when opened so only
// lines written after WatchArtifact began are ever broadcast.
type tail struct {
	taskID string
	file   *os.File
	reader *bufio.Reader
}

func newTail(path string) (*tail, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, err
	}
	return &tail{file: f, reader: bufio.NewReader(f)}, nil
}

func (t *tail) readNewLines() ([]string, error) {
	var lines []string
	for {
		line, err := t.reader.ReadString('\n')
		if line != "" {
			lines = append(lines, line)
		}
		if err != nil {
			if err == io.EOF {
				return lines, nil
			}
			return lines, err
		}
	}
}
