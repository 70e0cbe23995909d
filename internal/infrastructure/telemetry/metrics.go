// Package telemetry provides Prometheus instrumentation for the discovery controller.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsTotal counts stream events by kind and what the controller did with them.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "patchdiscovery",
			Name:      "stream_events_total",
			Help:      "Stream events handled by the run controller",
		},
		[]string{"kind", "outcome"},
	)

	// ReconnectsTotal counts stream reconnect attempts.
	ReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "patchdiscovery",
			Name:      "stream_reconnects_total",
			Help:      "Stream reconnect attempts after a transport failure",
		},
	)

	// PollsTotal counts authoritative metric polls by family and result.
	PollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "patchdiscovery",
			Name:      "metrics_polls_total",
			Help:      "Authoritative metrics polls",
		},
		[]string{"family", "result"},
	)

	// Transitions counts lifecycle transitions.
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "patchdiscovery",
			Name:      "lifecycle_transitions_total",
			Help:      "Run lifecycle transitions",
		},
		[]string{"from", "to"},
	)

	// Lifecycle is 1 for the controller's current lifecycle and 0 for the others.
	Lifecycle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "patchdiscovery",
			Name:      "lifecycle",
			Help:      "Current run lifecycle",
		},
		[]string{"state"},
	)

	// VisibleItems tracks the size of the visible item list.
	VisibleItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "patchdiscovery",
			Name:      "visible_items",
			Help:      "Items currently in the deduplicated list",
		},
	)
)

// RecordEvent records one handled stream event.
func RecordEvent(kind, outcome string) {
	EventsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordReconnect records one reconnect attempt.
func RecordReconnect() {
	ReconnectsTotal.Inc()
}

// RecordPoll records one authoritative poll.
func RecordPoll(family, result string) {
	PollsTotal.WithLabelValues(family, result).Inc()
}

// RecordTransition records a lifecycle change.
func RecordTransition(from, to string) {
	Transitions.WithLabelValues(from, to).Inc()
	Lifecycle.WithLabelValues(from).Set(0)
	Lifecycle.WithLabelValues(to).Set(1)
}

// SetVisibleItems updates the visible item gauge.
func SetVisibleItems(n int) {
	VisibleItems.Set(float64(n))
}
