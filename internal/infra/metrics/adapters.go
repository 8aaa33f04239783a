package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		adapterCallsTotal,
		adapterLatencyMs,
	)
}

var (
	adapterCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adapter_calls_total",
			Help: "Outbound calls to gateways and the panel, by adapter, op and success.",
		},
		[]string{"adapter", "op", "success"},
	)

	adapterLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adapter_latency_ms",
			Help:    "Outbound call latency distribution in milliseconds.",
			Buckets: []float64{10, 25, 50, 100, 200, 400, 800, 1600, 3000, 5000, 15000},
		},
		[]string{"adapter", "op"},
	)
)

func ObserveAdapterCall(adapter, op string, latencyMs int64, success bool) {
	adapterCallsTotal.WithLabelValues(norm(adapter), norm(op), strconv.FormatBool(success)).Inc()
	adapterLatencyMs.WithLabelValues(norm(adapter), norm(op)).Observe(float64(latencyMs))
}
