// Copyright (C) 2020 The restraint Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package observer

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/beakerlab/restraint/internal/testkit"

	"github.com/beakerlab/restraint/internal/engine"
)

type recordingConnection struct {
	mu    sync.Mutex
	lines []Line
}

func (c *recordingConnection) Receive(l Line) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, l)
}

func (c *recordingConnection) snapshot() []Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Line{}, c.lines...)
}

func TestWriteBroadcastsToAllConnections(t *testing.T) {
	r := NewRegistry(testkit.NewZapLogger())
	a := &recordingConnection{}
	b := &recordingConnection{}
	r.AddConnection(a)
	r.AddConnection(b)

	r.Write("T1", engine.StreamStdout, "hello\n")

	assert.Equal(t, []Line{{TaskID: "T1", Stream: engine.StreamStdout, Text: "hello\n"}}, a.snapshot())
	assert.Equal(t, []Line{{TaskID: "T1", Stream: engine.StreamStdout, Text: "hello\n"}}, b.snapshot())
}

func TestRemoveConnectionStopsDelivery(t *testing.T) {
	r := NewRegistry(testkit.NewZapLogger())
	a := &recordingConnection{}
	r.AddConnection(a)
	r.RemoveConnection(a)

	r.Write("T1", engine.StreamStdout, "hello\n")

	assert.Empty(t, a.snapshot())
}

func TestWatchArtifactBroadcastsAppendedLines(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "artifact")
	require.NoError(t, err)
	_, err = f.WriteString("pre-existing line, not broadcast\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r := NewRegistry(testkit.NewZapLogger())
	defer r.Close()

	a := &recordingConnection{}
	r.AddConnection(a)

	require.NoError(t, r.WatchArtifact("T1", f.Name()))

	appended, err := os.OpenFile(f.Name(), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = appended.WriteString("result: PASS\n")
	require.NoError(t, err)
	require.NoError(t, appended.Close())

	require.Eventually(t, func() bool {
		return len(a.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	lines := a.snapshot()
	assert.Equal(t, "T1", lines[0].TaskID)
	assert.Equal(t, engine.StreamStdout, lines[0].Stream)
	assert.Equal(t, "result: PASS\n", lines[0].Text)
}
