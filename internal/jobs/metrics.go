// Package jobmetrics instruments background job runs.
package jobmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	statusSuccess = "success"
	statusFailure = "failure"
)

// Metrics holds the job collectors. A nil *Metrics records nothing.
type Metrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	warehouses  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with registerer when
// it is not nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockledger_jobs_total",
			Help: "Job runs by job name and status.",
		}, []string{"job", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockledger_jobs_failures_total",
			Help: "Failed job runs by job name.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stockledger_job_duration_seconds",
			Help:    "Job run duration.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stockledger_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run per job.",
		}, []string{"job"}),
		warehouses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockledger_reconcile_warehouses_total",
			Help: "Warehouses visited by reconciliation runs, by outcome.",
		}, []string{"outcome"}),
	}
	if registerer != nil {
		registerer.MustRegister(m.runs, m.failures, m.duration, m.lastSuccess, m.warehouses)
	}
	return m
}

// Tracker times one job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts timing job.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records the run outcome and hands err back unchanged.
func (t *Tracker) End(err error) error {
	m := t.metrics
	if m == nil {
		return err
	}
	elapsed := time.Since(t.start)
	m.duration.WithLabelValues(t.job).Observe(elapsed.Seconds())
	if err != nil {
		m.runs.WithLabelValues(t.job, statusFailure).Inc()
		m.failures.WithLabelValues(t.job).Inc()
		return err
	}
	m.runs.WithLabelValues(t.job, statusSuccess).Inc()
	m.lastSuccess.WithLabelValues(t.job).Set(float64(t.start.Add(elapsed).Unix()))
	return nil
}

// AddWarehouses counts warehouses a reconciliation run checked or skipped.
func (m *Metrics) AddWarehouses(outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.warehouses.WithLabelValues(outcome).Add(float64(count))
}
