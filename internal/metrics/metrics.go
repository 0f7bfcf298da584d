// Package metrics holds the Prometheus collectors for voice sessions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Turns counts finished turns by outcome: complete, interrupted, error,
	// denied, command, handoff.
	Turns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortexvoice_turns_total",
			Help: "Total number of finished turns",
		},
		[]string{"outcome"},
	)

	Commands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortexvoice_commands_total",
			Help: "Total number of dispatched commands",
		},
		[]string{"kind", "source", "status"},
	)

	DomainRoutes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortexvoice_domain_routes_total",
			Help: "Total number of routed generations by domain and path",
		},
		[]string{"domain", "path"},
	)

	Interrupts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cortexvoice_interrupts_total",
			Help: "Total number of client interrupts",
		},
	)

	SynthesisFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortexvoice_synthesis_failures_total",
			Help: "Total number of sentence synthesis failures",
		},
		[]string{"provider"},
	)

	SynthesisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cortexvoice_synthesis_latency_seconds",
			Help:    "Per-sentence synthesis latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)

	FirstTokenLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cortexvoice_first_token_latency_seconds",
			Help:    "Time from routing to the first generated token in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	DroppedMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortexvoice_dropped_messages_total",
			Help: "Total number of outbound messages not delivered to a client",
		},
		[]string{"type"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cortexvoice_active_sessions",
			Help: "Number of connected sessions",
		},
	)
)
