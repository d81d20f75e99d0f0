// Package metrics declares the Prometheus collectors shared by the api,
// worker and poller binaries.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orchestrator_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"method", "route"})

	// WebhookEvents counts processed deliveries by source and outcome
	// (ok, rejected, error).
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_webhook_events_total",
		Help: "Webhook deliveries by source, event kind and outcome",
	}, []string{"source", "kind", "outcome"})

	UpstreamCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_upstream_calls_total",
		Help: "Calls to the payment processor, label provider and notification dispatcher",
	}, []string{"upstream", "op", "outcome"})

	LabelPurchases = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_label_purchases_total",
		Help: "Label purchases by shipment type and outcome",
	}, []string{"shipment_type", "outcome"})

	DepositResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_deposit_resolutions_total",
		Help: "Deposits released or captured",
	}, []string{"result"})

	SweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_deposit_sweep_runs_total",
		Help: "Overdue deposit sweep runs by outcome",
	}, []string{"outcome"})

	TrackingPolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_tracking_polls_total",
		Help: "Tracking lookups made by the poller",
	}, []string{"outcome"})
)

func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
