// Copyright (C) 2020 The restraint Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package statusclient reports task status, watchdog extensions, and results to the lab
// controller over HTTP. Every call is fire-and-forget: the request is posted on its own
// goroutine, a non-2xx response is logged and otherwise dropped, and callers never see the
// error — mirroring the original's queued libsoup requests, which never blocked the task
// handler on the network.
package statusclient

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/beakerlab/restraint/internal/metrics"
	"github.com/beakerlab/restraint/internal/zaptag"
)

// Client posts status/watchdog/result updates. The zero value is not usable; construct with New.
type Client struct {
	HTTP *http.Client
	Log  *zap.Logger
}

// New returns a Client with a bounded per-request timeout, since a hung lab controller must never
// stall the task handler that queues the request.
func New(log *zap.Logger) *Client {
	return &Client{
		HTTP: &http.Client{Timeout: 30 * time.Second},
		Log:  log.With(zaptag.Tag("statusclient")),
	}
}

func (c *Client) post(base, rel string, form url.Values, failureLabel string) {
	u, err := url.Parse(base)
	if err != nil {
		c.Log.Warn("invalid base url", zap.String("base", base), zap.Error(err))
		return
	}
	target, err := u.Parse(rel)
	if err != nil {
		c.Log.Warn("invalid relative url", zap.String("rel", rel), zap.Error(err))
		return
	}

	go func() {
		resp, err := c.HTTP.PostForm(target.String(), form)
		if err != nil {
			c.Log.Warn("request failed", zap.String("url", target.String()), zap.Error(err))
			metrics.ObserveReport(rel, -1)
			return
		}
		defer resp.Body.Close()
		metrics.ObserveReport(rel, resp.StatusCode)
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			c.Log.Warn(failureLabel, zap.Int("status", resp.StatusCode))
		}
	}()
}

// ReportStatus posts task status (e.g. "Aborted", "Cancelled") to taskURI/status, with an
// optional reason message. An empty reason is accepted (and logged as a caller bug, matching the
// original's "%s task with no reason given" warning) but still posted without a message field.
func (c *Client) ReportStatus(taskID, taskURI, status, reason string) {
	form := url.Values{"status": {status}}
	if reason == "" {
		c.Log.Warn(status + " task with no reason given")
	} else {
		form.Set("message", reason)
		c.Log.Info(status+" task due to error", zap.String("task_id", taskID), zap.String("reason", reason))
	}
	c.post(taskURI, "status", form, "updating status to "+status+" failed for task")
}

// ExtendWatchdog posts the number of seconds the external watchdog should extend the deadline by.
// seconds must be non-zero; this mirrors restraint_task_watchdog's g_return_if_fail guard.
func (c *Client) ExtendWatchdog(recipeURI string, seconds int) {
	if seconds == 0 {
		c.Log.Warn("refusing to extend watchdog by zero seconds")
		return
	}
	form := url.Values{"seconds": {strconv.Itoa(seconds)}}
	c.post(recipeURI, "watchdog", form, "updating watchdog failed for task")
}

// Result is one task result row: Result is required (e.g. "PASS", "FAIL", "WARN"), the rest are
// optional and omitted from the form when zero/empty.
type Result struct {
	Result  string
	Score   int
	Path    string
	Message string
}

// ReportResult posts a task result to taskURI/results. The failure log line reads "updating
// results failed", fixing the original's copy-paste bug where results_message_complete logged
// "watchdog Failed" on a non-2xx response.
func (c *Client) ReportResult(taskURI string, r Result) {
	form := url.Values{"result": {r.Result}}
	if r.Score != 0 {
		form.Set("score", strconv.Itoa(r.Score))
	}
	if r.Path != "" {
		form.Set("path", r.Path)
	}
	if r.Message != "" {
		form.Set("message", r.Message)
	}
	c.post(taskURI, "results", form, "updating results failed for task")
}
