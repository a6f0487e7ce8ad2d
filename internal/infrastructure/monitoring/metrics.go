package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	paymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lending_payments_total",
		Help: "Total number of payment allocation attempts by outcome.",
	}, []string{"status"})

	batchRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lending_collections_runs_total",
		Help: "Total number of collections batch runs by outcome.",
	}, []string{"status"})

	batchRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lending_collections_run_duration_seconds",
		Help:    "Duration of collections batch runs in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	loansEscalatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lending_loans_escalated_total",
		Help: "Total number of loans escalated to legal notice.",
	})

	promisesBrokenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lending_promises_broken_total",
		Help: "Total number of promise-to-pay commitments marked broken.",
	})

	loansClosedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lending_loans_closed_total",
		Help: "Total number of loans closed after full repayment.",
	})
)

func RecordPayment(status string) {
	paymentsTotal.WithLabelValues(status).Inc()
}

func RecordBatchRun(status string, duration time.Duration) {
	batchRunsTotal.WithLabelValues(status).Inc()
	batchRunDuration.Observe(duration.Seconds())
}

func AddLoansEscalated(n int) {
	loansEscalatedTotal.Add(float64(n))
}

func AddPromisesBroken(n int) {
	promisesBrokenTotal.Add(float64(n))
}

func AddLoansClosed(n int) {
	loansClosedTotal.Add(float64(n))
}
