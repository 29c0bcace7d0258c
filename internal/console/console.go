// Copyright (C) 2020 The restraint Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package console is an optional interactive terminal UI listing a recipe's tasks and their live
// state, with a scrolling pane of each task's most recent observed output, for an operator
// running the harness locally instead of purely from a controller.
package console

import (
	"fmt"

	"github.com/gdamore/tcell"
	"github.com/pkg/errors"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/beakerlab/restraint/internal/engine"
	"github.com/beakerlab/restraint/internal/observer"
	"github.com/beakerlab/restraint/internal/zaptag"
)

const (
	// RowPad is the all-sides padding of every row widget.
	RowPad = 1

	// BodyMaxLines bounds how much of a task's recent output a row keeps, to bound memory for a
	// long-running task's chatty stdout.
	BodyMaxLines = 200
)

// rowWidget mirrors boone's ListItemWidget: a single-line header plus an expanding body.
type rowWidget struct {
	Container *tview.Flex
	Header    *tview.TextView
	Body      *tview.TextView
}

func newRowWidget() *rowWidget {
	w := &rowWidget{}
	w.Container = tview.NewFlex()
	w.Container.SetDirection(tview.FlexRow)
	w.Container.SetBorderPadding(RowPad, RowPad, RowPad, RowPad)

	w.Header = tview.NewTextView()
	w.Header.SetDynamicColors(true)

	w.Body = tview.NewTextView()
	w.Body.SetWrap(true)
	w.Body.SetDynamicColors(true)

	w.Container.AddItem(w.Header, 1, 0, false)
	w.Container.AddItem(w.Body, 0, 1, false)

	return w
}

// row tracks one task's state and recent output, independent of the widget that renders it.
type row struct {
	taskID string
	name   string
	state  engine.State
	lines  []string
}

func stateGlyph(s engine.State) string {
	switch s {
	case engine.StateComplete:
		return "[green]PASS"
	case engine.StateFail:
		return "[red]FAIL"
	case engine.StateCancelled:
		return "[yellow]CANCELLED"
	case engine.StateRunning:
		return "[lightblue]RUNNING"
	default:
		return "[darkgray]" + string(s)
	}
}

// Console renders a recipe's task list and streamed output. It implements observer.Connection so
// it can be registered directly against an observer.Registry.
type Console struct {
	log *zap.Logger
	app *tview.Application
	list *tview.Flex

	rows    []*row
	widgets []*rowWidget

	exitCh chan struct{}
}

// New returns a Console with no rows; call SetTasks once the recipe is known.
func New(log *zap.Logger) *Console {
	return &Console{
		log:    log.With(zaptag.Tag("console")),
		exitCh: make(chan struct{}, 1),
	}
}

// SetTasks initializes one row per task, in recipe order. It must be called before Start.
func (c *Console) SetTasks(tasks []*engine.Task) {
	c.rows = make([]*row, len(tasks))
	for i, t := range tasks {
		c.rows[i] = &row{taskID: t.TaskID, name: t.Name, state: t.State}
	}
}

// ExitCh receives a value when the operator presses Ctrl-C or 'q'. It is never closed.
func (c *Console) ExitCh() <-chan struct{} {
	return c.exitCh
}

// Init builds the widget tree. It must run before Start.
func (c *Console) Init() {
	c.list = tview.NewFlex()
	c.list.SetDirection(tview.FlexRow)
	c.list.SetFullScreen(true)

	c.widgets = make([]*rowWidget, len(c.rows))
	for i := range c.rows {
		c.widgets[i] = newRowWidget()
		c.list.AddItem(c.widgets[i].Container, 0, 1, false)
	}

	c.app = tview.NewApplication().SetInputCapture(c.inputCapture)
	c.app.SetRoot(c.list, true)
}

// Start renders the UI and blocks until the operator exits.
func (c *Console) Start() error {
	c.render()
	defer c.app.Stop() // ensure the terminal is restored even on panic
	if err := c.app.Run(); err != nil {
		return errors.Wrap(err, "failed to run console")
	}
	return nil
}

// Stop ends rendering and unblocks Start.
func (c *Console) Stop() {
	c.app.Stop()
}

// UpdateState changes one task's displayed state, e.g. on every engine tick.
func (c *Console) UpdateState(taskID string, state engine.State) {
	for _, r := range c.rows {
		if r.taskID == taskID {
			r.state = state
			break
		}
	}
	c.render()
}

// Receive satisfies observer.Connection: each streamed line is appended to its task's row.
func (c *Console) Receive(line observer.Line) {
	for _, r := range c.rows {
		if r.taskID != line.TaskID {
			continue
		}
		r.lines = append(r.lines, line.Text)
		if len(r.lines) > BodyMaxLines {
			r.lines = r.lines[len(r.lines)-BodyMaxLines:]
		}
		break
	}
	c.render()
}

func (c *Console) render() {
	if c.app == nil {
		return
	}
	c.app.QueueUpdateDraw(func() {
		for i, r := range c.rows {
			header := fmt.Sprintf("%d) [white]%s [darkgray]| %s", i+1, r.name, stateGlyph(r.state))
			c.widgets[i].Header.SetText(header)

			var body string
			for _, line := range r.lines {
				body += line
			}
			c.widgets[i].Body.SetText(body)
			c.widgets[i].Body.ScrollToEnd()
		}
	})
}

func (c *Console) inputCapture(event *tcell.EventKey) *tcell.EventKey {
	if event.Key() == tcell.KeyCtrlC || event.Rune() == 'q' {
		select {
		case c.exitCh <- struct{}{}:
		default:
		}
		return nil
	}
	return event
}
