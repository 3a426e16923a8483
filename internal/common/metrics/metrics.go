package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SchedulerTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_ticks_total",
			Help: "Total number of notification scheduler ticks",
		},
	)

	SchedulerTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "scheduler_tick_duration_seconds",
			Help: "Duration of one notification tick in seconds",
		},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_notifications_sent_total",
			Help: "Total number of event notifications sent by trigger kind",
		},
		[]string{"trigger"},
	)

	NotificationsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_notifications_failed_total",
			Help: "Total number of event notification sends that failed",
		},
		[]string{"trigger"},
	)

	PushDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_deliveries_total",
			Help: "Total number of push deliveries by platform and outcome",
		},
		[]string{"platform", "outcome"},
	)

	ExpansionTruncations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recurrence_expansion_truncations_total",
			Help: "Times a recurring event hit the occurrence cap during expansion",
		},
	)
)
