package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/odyssey-erp/stockledger/internal/inventory"
)

// LedgerMetrics records posting outcomes and drift. It satisfies
// inventory.MetricsPort.
type LedgerMetrics struct {
	postings *prometheus.CounterVec
	duration *prometheus.HistogramVec
	drift    *prometheus.CounterVec
	repairs  prometheus.Counter
}

var _ inventory.MetricsPort = (*LedgerMetrics)(nil)

// NewLedgerMetrics registers the ledger collectors against registerer.
func NewLedgerMetrics(registerer prometheus.Registerer) *LedgerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &LedgerMetrics{
		postings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockledger_postings_total",
			Help: "Ledger postings by transaction type and result.",
		}, []string{"type", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stockledger_posting_duration_seconds",
			Help:    "Time spent posting one movement, including the database transaction.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"type"}),
		drift: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockledger_drift_detected_total",
			Help: "Balances whose location rows disagree with the aggregate.",
		}, []string{"direction"}),
		repairs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stockledger_drift_repairs_total",
			Help: "Under-reported location rows topped up at the default location.",
		}),
	}
	registerer.MustRegister(m.postings, m.duration, m.drift, m.repairs)
	return m
}

// ObservePosting counts one posting attempt.
func (m *LedgerMetrics) ObservePosting(txType, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.postings.WithLabelValues(txType, result).Inc()
	m.duration.WithLabelValues(txType).Observe(elapsed.Seconds())
}

func (m *LedgerMetrics) ObserveDrift(direction inventory.DriftDirection) {
	if m == nil {
		return
	}
	m.drift.WithLabelValues(string(direction)).Inc()
}

func (m *LedgerMetrics) ObserveRepair() {
	if m == nil {
		return
	}
	m.repairs.Inc()
}
