package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(adminCommandTotal) }

var adminCommandTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "admin_command_total",
		Help: "Tracks operator API calls.",
	},
	[]string{"command", "status"}, // status: 'ok', 'unauthorized', 'error'
)

func IncAdminCommand(command, status string) {
	adminCommandTotal.WithLabelValues(norm(command), norm(status)).Inc()
}
