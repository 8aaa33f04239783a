package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		webhookRequestsTotal,
		webhookDuration,
	)
}

var (
	// source: provider name or "panel"
	// result: ok|noop|bad_signature|bad_payload|not_found|retry|inconsistent
	webhookRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_requests_total",
			Help: "Inbound webhook deliveries by source and result.",
		},
		[]string{"source", "result"},
	)

	webhookDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhook_duration_seconds",
			Help:    "Webhook handling latency in seconds.",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
		},
		[]string{"source"},
	)
)

func ObserveWebhook(source, result string, seconds float64) {
	webhookRequestsTotal.WithLabelValues(norm(source), norm(result)).Inc()
	webhookDuration.WithLabelValues(norm(source)).Observe(seconds)
}
