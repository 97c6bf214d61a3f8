package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestStartStopsOnContextCancel(t *testing.T) {
	s, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Start(ctx, "127.0.0.1:0") }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop after context cancellation")
	}
}

func TestUnknownMethodLeavesNoLatencyLabel(t *testing.T) {
	s, _ := newTestServer(t)
	resp, status := call(t, s, "escrow_bogus_method", escrowIDParams{}, "")
	require.Equal(t, 404, status)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "escrowd_rpc_request_duration_seconds" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "method" {
					require.NotEqual(t, "escrow_bogus_method", label.GetValue())
				}
			}
		}
	}
}
