package orchestrator

import (
	"strconv"

	"phone-agent/internal/calls"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "phone_agent"

var (
	turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "turns_total",
			Help:      "Voice webhook turns by outcome.",
		},
		[]string{"outcome"}, // ok, hangup, degraded, replayed, unresolved, closed, busy
	)

	turnDurationHist = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "turn_duration_seconds",
			Help:      "Time to answer a voice webhook turn.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	statusTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "status_transitions_total",
			Help:      "Status updates by target status and whether they were applied.",
		},
		[]string{"status", "applied"},
	)

	finalizationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "finalizations_total",
			Help:      "Finalization attempts by outcome.",
		},
		[]string{"outcome"}, // completed, summary_failed, duplicate, error
	)

	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dispatch_total",
			Help:      "Outbound dispatch attempts by outcome.",
		},
		[]string{"outcome"}, // originated, invalid, provider_error, error
	)

	dedupeReplaysTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dedupe_replays_total",
			Help:      "Redelivered turns answered from the replay cache.",
		},
	)
)

func observeTransition(status calls.Status, applied bool) {
	statusTransitionsTotal.WithLabelValues(string(status), strconv.FormatBool(applied)).Inc()
}
