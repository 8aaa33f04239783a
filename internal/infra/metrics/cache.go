package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(cacheRequestsTotal, lockAttemptsTotal) }

var (
	cacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_requests_total",
			Help: "Tracks cache hits, misses and errors for various caches.",
		},
		[]string{"cache", "result"}, // e.g., cache="tariff", result="hit"
	)

	lockAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lock_attempts_total",
			Help: "Distributed lock attempts by key and result.",
		},
		[]string{"key", "result"}, // result: acquired|busy|error
	)
)

func IncCacheRequest(cacheName, result string) {
	cacheRequestsTotal.WithLabelValues(norm(cacheName), norm(result)).Inc()
}

func IncLockAttempt(key, result string) {
	lockAttemptsTotal.WithLabelValues(norm(key), norm(result)).Inc()
}
