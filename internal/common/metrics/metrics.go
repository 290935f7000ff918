package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ApplicationTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adoption_application_transitions_total",
			Help: "Application status transitions committed, by target status",
		},
		[]string{"from", "to"},
	)

	InterviewBookings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adoption_interview_bookings_total",
			Help: "Interview booking attempts by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adoption_notifications_created_total",
			Help: "Notifications queued, by type",
		},
		[]string{"type"},
	)

	NotificationDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adoption_notification_deliveries_total",
			Help: "Outbound notification deliveries by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	AvailabilityCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adoption_availability_cache_lookups_total",
			Help: "Availability cache lookups by result",
		},
		[]string{"result"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adoption_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)
)
