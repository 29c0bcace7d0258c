// Copyright (C) 2020 The restraint Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package metrics counts task outcomes and status-report outcomes behind a package-level
// prometheus registry, wired into the CLI's own HTTP mux the way shoal-provision wires
// provisioner/metrics into its own.
package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu  sync.RWMutex
	reg *prometheus.Registry

	tasksTotal  *prometheus.CounterVec
	reportTotal *prometheus.CounterVec
)

// Task outcome labels for ObserveTaskOutcome.
const (
	OutcomeComplete  = "complete"
	OutcomeFail      = "fail"
	OutcomeCancelled = "cancelled"
)

func init() {
	resetLocked()
}

// Reset clears and reinitializes all collectors. Primarily for tests.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resetLocked()
}

// Handler returns an HTTP handler exposing metrics in Prometheus exposition format.
func Handler() http.Handler {
	mu.RLock()
	registry := reg
	mu.RUnlock()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveTaskOutcome records one task reaching a terminal state (OutcomeComplete, OutcomeFail, or
// OutcomeCancelled).
func ObserveTaskOutcome(outcome string) {
	mu.RLock()
	defer mu.RUnlock()
	if tasksTotal != nil {
		tasksTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveReport records the outcome of one status/watchdog/result POST to the controller. kind
// identifies the report ("status", "watchdog", "results"); code is the HTTP response status, or a
// negative value if the request failed outright (no response).
func ObserveReport(kind string, code int) {
	status := "error"
	if code >= 0 {
		status = strconv.Itoa(code)
	}

	mu.RLock()
	defer mu.RUnlock()
	if reportTotal != nil {
		reportTotal.WithLabelValues(kind, status).Inc()
	}
}

func resetLocked() {
	registry := prometheus.NewRegistry()

	tasks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "restraint",
		Name:      "tasks_total",
		Help:      "Total tasks reaching a terminal state, by outcome.",
	}, []string{"outcome"})

	reports := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "restraint",
		Name:      "controller_reports_total",
		Help:      "Total status/watchdog/result reports sent to the controller, by kind and response status.",
	}, []string{"kind", "status"})

	registry.MustRegister(tasks, reports)

	reg = registry
	tasksTotal = tasks
	reportTotal = reports
}
