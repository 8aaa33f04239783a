package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		paymentsTotal,
		paymentsRevenueTotal,
		paymentTransitionsTotal,
		referralCreditsTotal,
		referralCreditAmountTotal,
	)
}

var (
	paymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_total",
			Help: "Payments by method and status (pending/succeeded/failed).",
		},
		[]string{"method", "status"},
	)

	paymentsRevenueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_revenue_total",
			Help: "The total monetary value of successful payments, labeled by currency.",
		},
		[]string{"currency"},
	)

	// result: applied|already_processed|error
	paymentTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_transitions_total",
			Help: "Confirm/Fail attempts by source and result.",
		},
		[]string{"op", "source", "result"},
	)

	referralCreditsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "referral_credits_total",
			Help: "Referral commissions credited.",
		},
	)

	referralCreditAmountTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_credit_amount_total",
			Help: "Sum of referral commissions in minor units, by currency.",
		},
		[]string{"currency"},
	)
)

func IncPayment(method, status string) {
	paymentsTotal.WithLabelValues(norm(method), norm(status)).Inc()
}

func AddPaymentRevenue(currency string, amount int64) {
	paymentsRevenueTotal.WithLabelValues(norm(currency)).Add(float64(amount))
}

func IncPaymentTransition(op, source, result string) {
	paymentTransitionsTotal.WithLabelValues(norm(op), norm(source), norm(result)).Inc()
}

func AddReferralCredit(currency string, amount int64) {
	referralCreditsTotal.Inc()
	referralCreditAmountTotal.WithLabelValues(norm(currency)).Add(float64(amount))
}
