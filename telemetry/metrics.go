package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	BatchesProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payments_batches_processed_total",
		Help: "Batches run to completion",
	})
	BatchOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_batch_record_outcomes_total",
		Help: "Per-record batch outcomes by kind and reason",
	}, []string{"kind", "reason"})
	LedgerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_ledger_transitions_total",
		Help: "Transaction status transitions; empty from means created",
	}, []string{"from", "to"})
	PartnerRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payments_partner_request_duration_seconds",
		Help:    "Latency of partner API calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "result"})
	DirectPaymentDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_direct_payment_decisions_total",
		Help: "Direct payment outcomes",
	}, []string{"decision"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payments_rate_limit_rejects_total",
		Help: "Batch requests rejected by the rate limiter",
	})
)

// Handler exposes /metrics with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			BatchesProcessed,
			BatchOutcomes,
			LedgerTransitions,
			PartnerRequestDuration,
			DirectPaymentDecisions,
			RateLimitRejects,
		)
	})
	return promhttp.Handler()
}
