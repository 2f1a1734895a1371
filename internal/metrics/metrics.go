package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	apiCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "api_requests_total",
		Help:      "Calls made to the remote attendance API by operation and outcome.",
	}, []string{"operation", "outcome"})

	transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "workflow_transitions_total",
		Help:      "Attendance workflow state entries by state.",
	}, []string{"state"})

	locationRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "location_rejections_total",
		Help:      "Office check-ins rejected before reaching the API, by reason.",
	}, []string{"reason"})

	forcedCheckouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "forced_checkouts_total",
		Help:      "Checkouts recorded locally after the API could not find the session.",
	})
)

func ObserveAPICall(operation, outcome string) {
	apiCalls.WithLabelValues(operation, outcome).Inc()
}

func ObserveTransition(state string) {
	transitions.WithLabelValues(state).Inc()
}

func ObserveLocationRejection(reason string) {
	locationRejections.WithLabelValues(reason).Inc()
}

func ObserveForcedCheckout() {
	forcedCheckouts.Inc()
}
