package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReservationsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_created_total",
		Help: "Total number of reservations created",
	})

	ReservationsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservations_create_rejected_total",
		Help: "Total number of reservation requests refused",
	}, []string{"reason"})

	ReservationTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservation_transitions_total",
		Help: "Total number of reservation status changes",
	}, []string{"to"})

	ReservationCreateLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reservation_create_latency_seconds",
		Help:    "Latency of the reservation create transaction",
		Buckets: prometheus.DefBuckets,
	})

	PaymentsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_created_total",
		Help: "Total number of payments created",
	}, []string{"origin"})

	PaymentTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_transitions_total",
		Help: "Total number of payment status changes",
	}, []string{"to"})

	PaymentsCascadedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_cascade_cancelled_total",
		Help: "Total number of payments cancelled with their reservation",
	})

	ReceiptUploadBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "receipt_upload_bytes",
		Help:    "Size of accepted receipt uploads",
		Buckets: prometheus.ExponentialBuckets(16*1024, 4, 6),
	})

	NotificationsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_created_total",
		Help: "Total number of inbox notifications written",
	}, []string{"event_type"})

	FanoutDuplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notification_fanout_duplicates_total",
		Help: "Total number of redelivered events skipped by the fan-out",
	})

	FanoutFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_fanout_failures_total",
		Help: "Total number of events the fan-out gave up on",
	}, []string{"event_type"})

	DeadLetteredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "events_dead_lettered_total",
		Help: "Events moved to the dead-letter topic after the handler gave up",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "http_rate_limited_total",
		Help: "Total number of requests refused by the rate limiter",
	})
)
