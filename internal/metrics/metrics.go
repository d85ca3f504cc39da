// Package metrics defines Prometheus metrics for the native call bridge.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// registerOnce ensures Register() is idempotent.
var registerOnce sync.Once

var (
	// NativeCalls counts native entry point invocations by operation and
	// outcome ("accepted", "rejected", "ok", "error").
	NativeCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codex_native_calls_total",
			Help: "Native engine calls by operation and result",
		},
		[]string{"op", "result"},
	)

	// CompletionsInFlight is the number of completions waiting for their
	// terminal callback.
	CompletionsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "codex_completions_inflight",
			Help: "Native calls awaiting completion",
		},
	)

	// SerializerWait observes how long callers waited for the global call lock.
	SerializerWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "codex_serializer_wait_seconds",
			Help:    "Time spent waiting for the native call lock",
			Buckets: []float64{.00001, .0001, .001, .005, .01, .05, .1, .5, 1},
		},
	)

	// ProgressEvents counts intermediate progress callbacks delivered to handlers.
	ProgressEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "codex_progress_events_total",
			Help: "Progress notifications delivered to handlers",
		},
	)

	// LateCallbacks counts callbacks that arrived for an unknown or already
	// resolved completion.
	LateCallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "codex_late_callbacks_total",
			Help: "Callbacks dropped because the completion was gone or resolved",
		},
	)
)

// Register registers all metrics with reg. Safe to call more than once.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			NativeCalls,
			CompletionsInFlight,
			SerializerWait,
			ProgressEvents,
			LateCallbacks,
		)
	})
}
