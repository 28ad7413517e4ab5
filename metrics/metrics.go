// Package metrics defines the Prometheus instrumentation for Argus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AlertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_alerts_created_total",
			Help: "Total number of alerts created",
		},
		[]string{"severity", "status"},
	)

	AlertsEscalated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_alerts_escalated_total",
			Help: "Total number of alert escalations",
		},
		[]string{"level"},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_notifications_sent_total",
			Help: "Total number of notification deliveries attempted",
		},
		[]string{"channel", "result"},
	)

	ErrorsCaptured = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_errors_captured_total",
			Help: "Total number of errors captured",
		},
		[]string{"severity"},
	)

	ErrorsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_errors_dropped_total",
			Help: "Total number of errors dropped before storage",
		},
		[]string{"reason"},
	)

	AuditEventsLogged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_audit_events_total",
			Help: "Total number of audit events logged",
		},
		[]string{"event_type"},
	)

	AuditFlushFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_audit_flush_failures_total",
			Help: "Total number of audit batch flush failures",
		},
	)

	AuditBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "argus_audit_batch_size",
			Help:    "Size of flushed audit batches",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		},
	)

	ComplianceViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_compliance_violations_total",
			Help: "Total number of compliance violations detected",
		},
		[]string{"rule"},
	)

	HealthCheckStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "argus_health_check_status",
			Help: "Per-probe health status (1 healthy, 0 unhealthy)",
		},
		[]string{"check"},
	)

	WorkerPoolActiveWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "argus_worker_pool_active_workers",
			Help: "Number of active workers per pool",
		},
		[]string{"pool_type"},
	)

	WorkerPoolQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "argus_worker_pool_queue_size",
			Help: "Current queued tasks per pool",
		},
		[]string{"pool_type"},
	)

	WorkerPoolTasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_worker_pool_tasks_processed_total",
			Help: "Total tasks processed per pool",
		},
		[]string{"pool_type"},
	)
)
