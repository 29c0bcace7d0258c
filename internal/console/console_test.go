// Copyright (C) 2020 The restraint Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package console

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/beakerlab/restraint/internal/testkit"

	"github.com/beakerlab/restraint/internal/engine"
	"github.com/beakerlab/restraint/internal/observer"
)

func TestSetTasksInitializesOneRowPerTask(t *testing.T) {
	c := New(testkit.NewZapLogger())
	c.SetTasks([]*engine.Task{
		{TaskID: "T1", Name: "/distribution/example", State: engine.StateIdle},
		{TaskID: "T2", Name: "/distribution/other", State: engine.StateIdle},
	})

	assert.Len(t, c.rows, 2)
	assert.Equal(t, "T1", c.rows[0].taskID)
	assert.Equal(t, "T2", c.rows[1].taskID)
}

func TestReceiveAppendsToMatchingRowOnly(t *testing.T) {
	c := New(testkit.NewZapLogger())
	c.SetTasks([]*engine.Task{
		{TaskID: "T1", Name: "/distribution/example"},
		{TaskID: "T2", Name: "/distribution/other"},
	})

	c.Receive(observer.Line{TaskID: "T2", Stream: engine.StreamStdout, Text: "hello\n"})

	assert.Empty(t, c.rows[0].lines)
	assert.Equal(t, []string{"hello\n"}, c.rows[1].lines)
}

func TestReceiveBoundsLineHistory(t *testing.T) {
	c := New(testkit.NewZapLogger())
	c.SetTasks([]*engine.Task{{TaskID: "T1", Name: "/distribution/example"}})

	for i := 0; i < BodyMaxLines+10; i++ {
		c.Receive(observer.Line{TaskID: "T1", Stream: engine.StreamStdout, Text: fmt.Sprintf("%d\n", i)})
	}

	assert.Len(t, c.rows[0].lines, BodyMaxLines)
	assert.Equal(t, "19\n", c.rows[0].lines[0])
}

func TestUpdateStateChangesMatchingRowOnly(t *testing.T) {
	c := New(testkit.NewZapLogger())
	c.SetTasks([]*engine.Task{
		{TaskID: "T1", Name: "/distribution/example", State: engine.StateIdle},
		{TaskID: "T2", Name: "/distribution/other", State: engine.StateIdle},
	})

	c.UpdateState("T2", engine.StateRunning)

	assert.Equal(t, engine.StateIdle, c.rows[0].state)
	assert.Equal(t, engine.StateRunning, c.rows[1].state)
}
