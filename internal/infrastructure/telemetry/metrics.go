package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric definitions for the DNC compliance engine

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dnc",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "handler", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dnc",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
		},
		[]string{"method", "handler"},
	)

	// Compliance check metrics
	ChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dnc",
			Subsystem: "engine",
			Name:      "checks_total",
			Help:      "DNC checks by resolution method and verdict",
		},
		[]string{"method", "on_list"},
	)

	CheckLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dnc",
			Subsystem: "engine",
			Name:      "check_latency_seconds",
			Help:      "DNC check decision latency",
			Buckets:   prometheus.ExponentialBuckets(0.000001, 2, 20), // 1μs to 1s
		},
		[]string{"method"},
	)

	// Gate metrics
	GateDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dnc",
			Subsystem: "gate",
			Name:      "decisions_total",
			Help:      "Call-blocking gate outcomes",
		},
		[]string{"outcome"}, // allowed, blocked, blocked_fail_closed, override
	)

	// Filter metrics
	FilterRebuildsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dnc",
			Subsystem: "filter",
			Name:      "rebuilds_total",
			Help:      "Membership filter full rebuilds",
		},
	)

	FilterEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dnc",
			Subsystem: "filter",
			Name:      "entries",
			Help:      "Numbers currently tracked by the membership filter",
		},
	)

	// Scrub metrics
	ScrubBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "dnc",
			Subsystem: "engine",
			Name:      "scrub_batch_size",
			Help:      "Numbers per scrub request",
			Buckets:   prometheus.ExponentialBuckets(10, 4, 7), // 10 to ~40k
		},
	)
)
