package billing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	webhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_webhook_events_total",
			Help: "Verified provider events by type and reconciliation outcome.",
		},
		[]string{"event", "outcome"},
	)

	providerCancellations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_provider_cancellations_total",
			Help: "Provider-side subscription cancellations by caller and result.",
		},
		[]string{"source", "result"},
	)

	partialSuccesses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_partial_success_total",
			Help: "Operations whose provider effect succeeded while the local mirror did not.",
		},
		[]string{"op"},
	)
)

// Cancellation sources.
const (
	sourceCheckout = "checkout"
	sourceDedup    = "dedup"
	sourceSweep    = "sweep"
	sourceUser     = "user"
)

func observeCancellation(source string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	providerCancellations.WithLabelValues(source, result).Inc()
}

func observePartial(p *PartialSuccess) {
	if p != nil {
		partialSuccesses.WithLabelValues(p.Op).Inc()
	}
}
