// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wallet_ledger"

var (
	// MovementsTotal counts movement state changes by kind and resulting status
	MovementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "movement",
		Name:      "total",
		Help:      "Movement records written or transitioned, by kind and status.",
	}, []string{"kind", "status"})

	// MovementDuration observes orchestrator call latency
	MovementDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "movement",
		Name:      "duration_seconds",
		Help:      "Latency of orchestrator operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "outcome"})

	// PayoutFailuresTotal counts payout requests the gateway refused or timed out on
	PayoutFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payout",
		Name:      "failures_total",
		Help:      "Payout gateway failures after the ledger committed.",
	}, []string{"token"})

	// ReimbursementsTotal counts compensating credits by resulting status
	ReimbursementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reimbursement",
		Name:      "total",
		Help:      "Reimbursements processed, by resulting status of the original movement.",
	}, []string{"status"})

	// DueOffsetsTotal counts outgoing movements intercepted by a due balance
	DueOffsetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "due_offset",
		Name:      "total",
		Help:      "Due offsets applied, by partial or full.",
	}, []string{"partial"})

	// ReconciliationDriftTotal counts wallets whose cached balance disagreed with the log
	ReconciliationDriftTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconciliation",
		Name:      "drift_total",
		Help:      "Wallets found with a cached balance different from the replayed log.",
	}, []string{"token", "corrected"})

	// ReconciliationRunsTotal counts reconciliation runs by outcome
	ReconciliationRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconciliation",
		Name:      "runs_total",
		Help:      "Reconciliation runs, by outcome.",
	}, []string{"outcome"})

	// OracleLatency observes price oracle round trips
	OracleLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "oracle",
		Name:      "request_duration_seconds",
		Help:      "Price oracle request latency, by pair and cache outcome.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"pair", "source"})

	// HTTPRequestsTotal counts API requests
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests, by route, method and status code.",
	}, []string{"route", "method", "status"})

	// HTTPRequestDuration observes API latency
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency, by route and method.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})

	// DatabaseConnectionsGauge reports sql.DBStats by state
	DatabaseConnectionsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "connections",
		Help:      "Database connections, by state.",
	}, []string{"state"})
)

// ObserveMovement records the outcome and latency of one orchestrator call
func ObserveMovement(operation string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	MovementDuration.WithLabelValues(operation, outcome).Observe(time.Since(start).Seconds())
}

// ObserveHTTP records one served request
func ObserveHTTP(route, method string, status int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	HTTPRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}
