// Copyright (C) 2020 The restraint Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package statusclient

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/beakerlab/restraint/internal/testkit"
)

type capturedRequest struct {
	path string
	form map[string][]string
}

func newCapturingServer(t *testing.T, status int) (*httptest.Server, chan capturedRequest) {
	t.Helper()
	ch := make(chan capturedRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		ch <- capturedRequest{path: r.URL.Path, form: map[string][]string(r.PostForm)}
		w.WriteHeader(status)
	}))
	return srv, ch
}

func TestReportStatusWithReason(t *testing.T) {
	srv, ch := newCapturingServer(t, http.StatusOK)
	defer srv.Close()

	c := New(testkit.NewZapLogger())
	c.ReportStatus("T1", srv.URL+"/", "Aborted", "boom")

	select {
	case req := <-ch:
		assert.Equal(t, "/status", req.path)
		assert.Equal(t, []string{"Aborted"}, req.form["status"])
		assert.Equal(t, []string{"boom"}, req.form["message"])
	case <-time.After(2 * time.Second):
		t.Fatal("request never arrived")
	}
}

func TestReportStatusNoReason(t *testing.T) {
	srv, ch := newCapturingServer(t, http.StatusOK)
	defer srv.Close()

	c := New(testkit.NewZapLogger())
	c.ReportStatus("T1", srv.URL+"/", "Cancelled", "")

	select {
	case req := <-ch:
		_, hasMessage := req.form["message"]
		assert.False(t, hasMessage)
	case <-time.After(2 * time.Second):
		t.Fatal("request never arrived")
	}
}

func TestExtendWatchdogRejectsZero(t *testing.T) {
	var called sync.WaitGroup
	called.Add(1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Done()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(testkit.NewZapLogger())
	c.ExtendWatchdog(srv.URL+"/", 0)

	doneCh := make(chan struct{})
	go func() { called.Wait(); close(doneCh) }()
	select {
	case <-doneCh:
		t.Fatal("server should never have been called for a zero-second extension")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestExtendWatchdog(t *testing.T) {
	srv, ch := newCapturingServer(t, http.StatusOK)
	defer srv.Close()

	c := New(testkit.NewZapLogger())
	c.ExtendWatchdog(srv.URL+"/", 930)

	select {
	case req := <-ch:
		assert.Equal(t, "/watchdog", req.path)
		assert.Equal(t, []string{"930"}, req.form["seconds"])
	case <-time.After(2 * time.Second):
		t.Fatal("request never arrived")
	}
}

func TestReportResultOmitsZeroScore(t *testing.T) {
	srv, ch := newCapturingServer(t, http.StatusOK)
	defer srv.Close()

	c := New(testkit.NewZapLogger())
	c.ReportResult(srv.URL+"/", Result{Result: "PASS"})

	select {
	case req := <-ch:
		assert.Equal(t, "/results", req.path)
		assert.Equal(t, []string{"PASS"}, req.form["result"])
		_, hasScore := req.form["score"]
		assert.False(t, hasScore)
	case <-time.After(2 * time.Second):
		t.Fatal("request never arrived")
	}
}

func TestReportResultNon2xxIsDropped(t *testing.T) {
	srv, ch := newCapturingServer(t, http.StatusInternalServerError)
	defer srv.Close()

	c := New(testkit.NewZapLogger())
	c.ReportResult(srv.URL+"/", Result{Result: "FAIL", Score: 5, Message: "oops"})

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("request never arrived")
	}
	// No error is surfaced to the caller; ReportResult returning at all is the assertion.
}
