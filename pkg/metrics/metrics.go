// Package metrics exposes the flow engine's Prometheus collectors: flow
// counts per status, scheduler tick latency, CAS conflicts, retry backlog,
// and live-channel subscriber counts.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the flow engine's Prometheus collectors.
var Registry = prometheus.NewRegistry()

var (
	FlowsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "flowengine",
			Subsystem: "flows",
			Name:      "by_status",
			Help:      "Current number of flow instances in each status.",
		},
		[]string{"flow_type", "status"},
	)

	SchedulerTickDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flowengine",
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Duration of one scheduler tick.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"flow_type"},
	)

	CASConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowengine",
			Subsystem: "store",
			Name:      "cas_conflicts_total",
			Help:      "Total number of compare-and-swap conflicts observed on commit.",
		},
		[]string{"flow_type"},
	)

	RetryBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "flowengine",
			Subsystem: "retry",
			Name:      "backlog",
			Help:      "Number of flows currently eligible for retry-service resume.",
		},
	)

	LiveSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "flowengine",
			Subsystem: "live",
			Name:      "subscribers",
			Help:      "Number of currently connected live-update subscribers.",
		},
	)
)

func init() {
	Registry.MustRegister(FlowsByStatus, SchedulerTickDuration, CASConflicts, RetryBacklog, LiveSubscribers)
}

// Handler returns an http.Handler exposing the registry in the Prometheus
// exposition format, for wiring into the admin router.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
