// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Request outcomes recorded by Metrics.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeInvalid = "invalid"
)

// Metrics counts requests served by a SocketServer, labelled by action
// and outcome. Requests rejected before an action is known are
// recorded under action "".
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the request metrics for a service and registers
// them with registerer. subsystem distinguishes services sharing a
// registry ("blob", "jobs").
func NewMetrics(registerer prometheus.Registerer, subsystem string) *Metrics {
	metrics := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bureau_agent",
				Subsystem: subsystem,
				Name:      "requests_total",
				Help:      "Socket requests served, by action and outcome.",
			},
			[]string{"action", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "bureau_agent",
				Subsystem: subsystem,
				Name:      "request_duration_seconds",
				Help:      "Time spent in action handlers.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"action"},
		),
	}
	registerer.MustRegister(metrics.requests, metrics.duration)
	return metrics
}

// Requests returns the counter for one action and outcome.
func (m *Metrics) Requests(action, outcome string) prometheus.Counter {
	return m.requests.WithLabelValues(action, outcome)
}

func (m *Metrics) observe(action, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(action, outcome).Inc()
	if outcome != OutcomeInvalid {
		m.duration.WithLabelValues(action).Observe(elapsed.Seconds())
	}
}
