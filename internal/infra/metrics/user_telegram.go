package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		usersRegisteredTotal,
		trialsStartedTotal,
	)
}

var (
	usersRegisteredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "users_registered_total",
			Help: "Total number of new users registered, by whether they came through a referral.",
		},
		[]string{"referred"},
	)

	trialsStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trials_started_total",
			Help: "Total number of trial grants issued.",
		},
	)
)

func IncUsersRegistered(referred bool) {
	if referred {
		usersRegisteredTotal.WithLabelValues("true").Inc()
		return
	}
	usersRegisteredTotal.WithLabelValues("false").Inc()
}

func IncTrialStarted() {
	trialsStartedTotal.Inc()
}
