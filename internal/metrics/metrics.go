package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	settlementOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_outcomes_total",
		Help: "Settlement invocations by terminal state",
	}, []string{
		"outcome", // settled, already_settled, failed
		"kind",    // failure kind, empty unless outcome=failed
	})

	settlementDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_duration_seconds",
		Help:    "Time from invocation to terminal state, including lock wait",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"outcome"})

	ledgerEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_ledger_entries_total",
		Help: "Committed ledger entries by type",
	}, []string{"entry_type"})

	ledgerAmountMinor = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_amount_minor_total",
		Help: "Absolute committed ledger amounts in currency minor units",
	}, []string{"entry_type", "currency"})

	outboxPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_outbox_published_total",
		Help: "Outbox publish attempts by result",
	}, []string{"status"}) // dispatched, retry, failed
)

func RecordSettlement(outcome, kind string, d time.Duration) {
	settlementOutcomesTotal.WithLabelValues(outcome, kind).Inc()
	settlementDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func RecordLedgerEntry(entryType, currency string, amount int64) {
	if amount < 0 {
		amount = -amount
	}
	ledgerEntriesTotal.WithLabelValues(entryType).Inc()
	ledgerAmountMinor.WithLabelValues(entryType, currency).Add(float64(amount))
}

func RecordOutboxPublish(status string) {
	outboxPublishedTotal.WithLabelValues(status).Inc()
}
