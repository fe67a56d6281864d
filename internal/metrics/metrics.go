// Package metrics provides Prometheus metrics for runs and the viewer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts finished runs by final status.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "weave",
			Subsystem: "engine",
			Name:      "runs_total",
			Help:      "Total number of runs by final status",
		},
		[]string{"status"}, // "completed", "max-iterations", "error"
	)

	// RunsActive tracks runs in progress.
	RunsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "weave",
			Subsystem: "engine",
			Name:      "runs_active",
			Help:      "Number of runs in progress",
		},
	)

	// IterationsTotal counts loop iterations started.
	IterationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "weave",
			Subsystem: "engine",
			Name:      "iterations_total",
			Help:      "Total number of iterations started",
		},
	)

	// ExecsTotal counts agent executions by kind and status.
	ExecsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "weave",
			Subsystem: "engine",
			Name:      "execs_total",
			Help:      "Total number of agent executions",
		},
		[]string{"kind", "status"},
	)

	// ExecDuration tracks agent execution duration.
	ExecDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "weave",
			Subsystem: "engine",
			Name:      "exec_duration_seconds",
			Help:      "Agent execution duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"kind"},
	)

	// StepsInFlight tracks concurrently running workflow steps.
	StepsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "weave",
			Subsystem: "engine",
			Name:      "steps_in_flight",
			Help:      "Number of workflow steps currently executing",
		},
	)

	// GraphWarningsTotal counts provenance warnings recorded.
	GraphWarningsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "weave",
			Subsystem: "provenance",
			Name:      "warnings_total",
			Help:      "Total number of provenance graph warnings",
		},
	)

	// HTTPRequestsTotal counts viewer requests by route and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "weave",
			Subsystem: "viewer",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration tracks viewer request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "weave",
			Subsystem: "viewer",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)
