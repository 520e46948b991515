// Copyright 2025 Certen Protocol
//
// Package metrics exposes Prometheus counters and gauges for the DVN and
// Executor workers, and the HTTP handler that serves them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry groups the counters and gauges both workers update. A single
// Registry is constructed per process and passed into whichever worker the
// binary runs.
type Registry struct {
	PacketsReceived *prometheus.CounterVec
	VerifyCalls     *prometheus.CounterVec
	ExecuteCalls    *prometheus.CounterVec
	BufferDrops     *prometheus.CounterVec
	Resubscribes    *prometheus.CounterVec
	QueueLength     prometheus.Gauge
	StateRootChecks *prometheus.CounterVec
}

// New registers all collectors against a fresh prometheus.Registry and
// returns both the Registry and the http.Handler that serves them.
func New() (*Registry, http.Handler) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	r := &Registry{
		PacketsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lz_packets_received_total",
			Help: "Number of PacketSent events observed, by worker.",
		}, []string{"worker"}),

		VerifyCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lz_dvn_verify_calls_total",
			Help: "Number of verify() calls submitted by the DVN worker, by outcome.",
		}, []string{"outcome"}),

		ExecuteCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lz_executor_lzreceive_calls_total",
			Help: "Number of lzReceive() calls submitted by the executor worker, by outcome.",
		}, []string{"outcome"}),

		BufferDrops: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lz_log_buffer_drops_total",
			Help: "Number of entries dropped because a bounded subscription buffer was full.",
		}, []string{"stream"}),

		Resubscribes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lz_resubscribes_total",
			Help: "Number of times a log or head subscription was transparently re-established.",
		}, []string{"stream"}),

		QueueLength: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lz_executor_queue_length",
			Help: "Current number of packets queued by the executor worker.",
		}),

		StateRootChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lz_state_root_checks_total",
			Help: "Number of state-root cross-checks performed by the DVN worker, by result.",
		}, []string{"result"}),
	}

	return r, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
