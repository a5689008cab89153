package github

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gitwatch"

var (
	webhookRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "requests_total",
			Help:      "Webhook deliveries by event type and result",
		},
		[]string{"event", "result"},
	)

	pollCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "cycles_total",
			Help:      "Poll cycles by result",
		},
		[]string{"result"},
	)

	pollCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of completed poll cycles",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 20, 30, 60},
		},
	)

	pollRepos = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "repos_total",
			Help:      "Polled subscriptions by result",
		},
		[]string{"result"},
	)
)

// unverifiedEvent labels deliveries rejected before the signature checked out.
const unverifiedEvent = "unverified"

// webhookEventLabel bounds the event label to the types the hook subscribes
// to. The header is client supplied.
func webhookEventLabel(eventType string) string {
	switch eventType {
	case "issues", "pull_request", "push", "issue_comment", "ping":
		return eventType
	default:
		return "other"
	}
}

func recordWebhook(label, result string) {
	webhookRequests.WithLabelValues(label, result).Inc()
}

func recordCycle(result string, d time.Duration) {
	pollCycles.WithLabelValues(result).Inc()
	if result == "completed" {
		pollCycleDuration.Observe(d.Seconds())
	}
}

func recordRepo(result string) {
	pollRepos.WithLabelValues(result).Inc()
}
