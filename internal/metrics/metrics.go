// Package metrics holds the Prometheus collectors shared by the bring-up
// sequence and the status API. Collectors are registered with the default
// registry on init, so promhttp.Handler exposes them without extra wiring.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "voiceboot"

var (
	// State is 1 for the orchestrator's current state and 0 for all others.
	State = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Current orchestrator state (1 for the active state)",
		},
		[]string{"state"},
	)

	ProbeAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "attempts_total",
			Help:      "Total readiness checks issued against a dependency",
		},
		[]string{"target"},
	)

	ProbeResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "results_total",
			Help:      "Readiness probe outcomes (ready or timeout)",
		},
		[]string{"target", "result"},
	)

	ProcessUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "up",
			Help:      "Whether a managed process is currently alive",
		},
		[]string{"name"},
	)

	ProcessLaunches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "launches_total",
			Help:      "Managed process launch attempts by result",
		},
		[]string{"name", "result"},
	)

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)
)

func init() {
	prometheus.MustRegister(State, ProbeAttempts, ProbeResults, ProcessUp, ProcessLaunches, HTTPRequests, HTTPDuration)
}

// SetState marks current as the active state among all.
func SetState(current string, all []string) {
	for _, s := range all {
		if s == current {
			State.WithLabelValues(s).Set(1)
			continue
		}
		State.WithLabelValues(s).Set(0)
	}
}
