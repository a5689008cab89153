package notifier

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gitwatch"

var (
	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "total",
			Help:      "Notifications handled by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	deliveryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "failures_total",
			Help:      "Failed deliveries by reason",
		},
		[]string{"reason"},
	)

	sendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "send_duration_seconds",
			Help:      "Time to send one notification",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)
)

func recordOutcome(kind string, o Outcome) {
	notificationsTotal.WithLabelValues(kind, o.String()).Inc()
}

func recordFailure(reason string) {
	deliveryFailures.WithLabelValues(reason).Inc()
}

func recordSendDuration(d time.Duration) {
	sendDuration.Observe(d.Seconds())
}
