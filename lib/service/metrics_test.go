// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSocketServerMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry, "test")

	server, socketPath := newEchoServer(t)
	server.SetMetrics(metrics)
	startServer(t, server)

	sendRequest(t, socketPath, echoRequest{Action: "echo", Message: "one"})
	sendRequest(t, socketPath, echoRequest{Action: "echo", Message: "two"})
	sendRequest(t, socketPath, map[string]any{"action": "fail"})
	sendRequest(t, socketPath, map[string]any{"action": "nope"})

	tests := []struct {
		action  string
		outcome string
		want    float64
	}{
		{"echo", OutcomeOK, 2},
		{"fail", OutcomeError, 1},
		{"", OutcomeInvalid, 1},
		{"empty", OutcomeOK, 0},
	}
	for _, test := range tests {
		if got := testutil.ToFloat64(metrics.Requests(test.action, test.outcome)); got != test.want {
			t.Errorf("requests{action=%q,outcome=%q} = %v, want %v", test.action, test.outcome, got, test.want)
		}
	}

	count, err := testutil.GatherAndCount(registry, "bureau_agent_test_request_duration_seconds")
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if count != 2 {
		t.Errorf("duration series = %d, want 2 (echo and fail)", count)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var metrics *Metrics
	metrics.observe("echo", OutcomeOK, 0)
}
