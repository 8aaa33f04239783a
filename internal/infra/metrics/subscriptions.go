package metrics

import (
	"vpn-subscription-bot/internal/domain/model"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		grantSyncTotal,
		grantEventsTotal,
		consistencyViolationsTotal,
		subscriptionsTotal,
	)
}

var (
	// outcome: unchanged|corrected|missing|error
	grantSyncTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grant_sync_items_total",
			Help: "Subscriptions visited by the full grant sync, by outcome.",
		},
		[]string{"outcome"},
	)

	grantEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grant_events_total",
			Help: "Panel events applied, by kind and whether they changed local state.",
		},
		[]string{"kind", "changed"},
	)

	consistencyViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consistency_violations_total",
			Help: "Events rejected because a referenced row is missing.",
		},
		[]string{"entity"},
	)

	subscriptionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "subscriptions_total",
			Help: "Current number of subscriptions by status.",
		},
		[]string{"status"},
	)
)

func IncGrantSync(outcome string) {
	grantSyncTotal.WithLabelValues(norm(outcome)).Inc()
}

func IncGrantEvent(kind string, changed bool) {
	c := "false"
	if changed {
		c = "true"
	}
	grantEventsTotal.WithLabelValues(norm(kind), c).Inc()
}

func IncConsistencyViolation(entity string) {
	consistencyViolationsTotal.WithLabelValues(norm(entity)).Inc()
}

func SetSubscriptionsTotal(counts map[model.SubscriptionStatus]int) {
	statuses := []model.SubscriptionStatus{
		model.SubscriptionStatusPending,
		model.SubscriptionStatusActive,
		model.SubscriptionStatusDisabled,
		model.SubscriptionStatusExpired,
	}
	for _, status := range statuses {
		subscriptionsTotal.WithLabelValues(norm(string(status))).Set(float64(counts[status]))
	}
}
