package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CreditsGrantedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credits_granted_total",
		Help: "Total number of session credits granted",
	})

	CreditsDeductedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credits_deducted_total",
		Help: "Total number of session credits deducted",
	})

	GrantsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grants_failed_total",
		Help: "Total number of failed credit grants",
	}, []string{"reason"})

	RecoveryGrantsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recovery_grants_total",
		Help: "Total number of manual recovery grants applied",
	})

	DuplicateGrantsRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duplicate_grants_rejected_total",
		Help: "Total number of grants rejected as likely duplicates",
	})

	IdempotentReplaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "idempotent_replays_total",
		Help: "Total number of grant requests served from a prior order",
	})

	DeductionRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deduction_runs_total",
		Help: "Total number of session deduction runs",
	})

	DeductionRunLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "deduction_run_latency_seconds",
		Help:    "Latency of session deduction runs",
		Buckets: prometheus.DefBuckets,
	})

	SessionsWithoutCreditTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessions_without_credit_total",
		Help: "Total number of sessions completed with no credit available",
	})

	ClientsNeedingPayment = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clients_needing_payment",
		Help: "Clients with upcoming sessions and a zero or negative balance",
	})

	SessionsOwedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reconciliation_sessions_owed",
		Help: "Session credits owed by completed carts that were never granted",
	})

	UngrantedCartsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reconciliation_ungranted_carts",
		Help: "Completed carts that have not had sessions granted",
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
)
