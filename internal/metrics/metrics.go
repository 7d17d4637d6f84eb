package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Evaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carewatch_evaluations_total",
			Help: "Rule evaluations by outcome (triggered, not_triggered, insufficient_data, error)",
		},
		[]string{"outcome"},
	)
	EnrollmentFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "carewatch_enrollment_failures_total",
			Help: "Enrollment evaluation tasks that failed or timed out",
		},
	)
	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "carewatch_cycle_duration_seconds",
			Help:    "Duration of a full evaluation cycle",
			Buckets: prometheus.DefBuckets,
		},
	)
	AlertTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carewatch_alert_transitions_total",
			Help: "Alert instance audit actions",
		},
		[]string{"action"},
	)
	Escalations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "carewatch_escalations_total",
			Help: "Alert instances escalated after an SLA breach",
		},
	)
	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carewatch_notification_deliveries_total",
			Help: "Notification deliveries by channel and status",
		},
		[]string{"channel", "status"},
	)
	NotifyQueueOverflow = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "carewatch_notify_queue_overflow_total",
			Help: "Notifications deferred by a full queue or refused by a closed one",
		},
	)
	ActiveRules = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "carewatch_active_rules",
			Help: "Enabled and valid rules in the current rule set",
		},
	)
	InvalidRules = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "carewatch_invalid_rules",
			Help: "Rules rejected at load",
		},
	)
)

func init() {
	prometheus.MustRegister(Evaluations)
	prometheus.MustRegister(EnrollmentFailures)
	prometheus.MustRegister(CycleDuration)
	prometheus.MustRegister(AlertTransitions)
	prometheus.MustRegister(Escalations)
	prometheus.MustRegister(Deliveries)
	prometheus.MustRegister(NotifyQueueOverflow)
	prometheus.MustRegister(ActiveRules)
	prometheus.MustRegister(InvalidRules)
}
