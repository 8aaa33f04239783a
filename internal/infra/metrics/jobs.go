package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		jobRunsTotal,
		jobDuration,
		notificationsTotal,
	)
}

var (
	jobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_runs_total",
			Help: "Scheduled job runs, labeled by job and status.",
		},
		[]string{"job", "status"}, // 'ok', 'error', 'skipped'
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Scheduled job duration in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"job"},
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "User notifications by template and status.",
		},
		[]string{"template", "status"}, // 'sent', 'error', 'dropped'
	)
)

func IncJobRun(job, status string, seconds float64) {
	jobRunsTotal.WithLabelValues(norm(job), norm(status)).Inc()
	if status != "skipped" {
		jobDuration.WithLabelValues(norm(job)).Observe(seconds)
	}
}

func IncNotification(template, status string) {
	notificationsTotal.WithLabelValues(norm(template), norm(status)).Inc()
}
