package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	OptToggles         *prometheus.CounterVec
	Confirmations      *prometheus.CounterVec
	BestEffortFailures *prometheus.CounterVec
	EventsApplied      *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg keeps them unregistered,
// which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OptToggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tiffin",
			Name:      "opt_toggles_total",
			Help:      "Opt-in/opt-out requests by action and outcome.",
		}, []string{"action", "outcome"}),
		Confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tiffin",
			Name:      "selection_confirmations_total",
			Help:      "Confirmed selections by outcome.",
		}, []string{"outcome"}),
		BestEffortFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tiffin",
			Name:      "best_effort_failures_total",
			Help:      "Secondary writes that failed and were skipped.",
		}, []string{"op"}),
		EventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tiffin",
			Name:      "kitchen_events_total",
			Help:      "Meal state events handled by the kitchen projection.",
		}, []string{"event_type", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.OptToggles, m.Confirmations, m.BestEffortFailures, m.EventsApplied)
	}
	return m
}
