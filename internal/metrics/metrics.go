// Copyright (c) 2025, the tinytorrent panel contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metrics exposes Prometheus counters for the add-torrent flow.
// A nil *Recorder is valid and records nothing, so callers never need to
// guard on whether metrics are enabled.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Recorder struct {
	started  prometheus.Counter
	settled  *prometheus.CounterVec
	timedOut prometheus.Counter
	blocked  *prometheus.CounterVec
}

func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)

	return &Recorder{
		started: factory.NewCounter(prometheus.CounterOpts{
			Name: "panel_submissions_started_total",
			Help: "Submissions admitted and dispatched to the engine.",
		}),
		settled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "panel_submissions_settled_total",
			Help: "Terminal submission settlements by outcome.",
		}, []string{"outcome"}),
		timedOut: factory.NewCounter(prometheus.CounterOpts{
			Name: "panel_submissions_timed_out_total",
			Help: "Submissions that entered the unknown-outcome phase.",
		}),
		blocked: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "panel_submissions_blocked_total",
			Help: "Submissions rejected at admission by reason.",
		}, []string{"reason"}),
	}
}

func (r *Recorder) SubmissionStarted() {
	if r == nil {
		return
	}
	r.started.Inc()
}

func (r *Recorder) SubmissionSettled(outcome string) {
	if r == nil {
		return
	}
	r.settled.WithLabelValues(outcome).Inc()
}

func (r *Recorder) SubmissionTimedOut() {
	if r == nil {
		return
	}
	r.timedOut.Inc()
}

func (r *Recorder) SubmissionBlocked(reason string) {
	if r == nil {
		return
	}
	r.blocked.WithLabelValues(reason).Inc()
}
