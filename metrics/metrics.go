// Package metrics holds the Prometheus collectors of the payroll engine.
//
// Every method is safe on a nil *Metrics so components can be built without
// observability in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var durationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// Metrics provides observability for payroll runs, rate fetches and advances.
type Metrics struct {
	PayrollRuns         *prometheus.CounterVec
	EmployeesProcessed  prometheus.Counter
	EmployeeFailures    *prometheus.CounterVec
	RunDuration         prometheus.Histogram
	RateFetchDuration   *prometheus.HistogramVec
	RateFetchFailures   *prometheus.CounterVec
	RateCacheFallbacks  prometheus.Counter
	AdvancesIssued      prometheus.Counter
	AdvanceAmountIssued prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PayrollRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "payroll_runs_total",
			Help: "Aggregator runs by outcome (priced, rate_unavailable, cancelled)",
		}, []string{"status"}),
		EmployeesProcessed: f.NewCounter(prometheus.CounterOpts{
			Name: "payroll_employees_processed_total",
			Help: "Employees successfully priced by the aggregator",
		}),
		EmployeeFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "payroll_employee_failures_total",
			Help: "Employees isolated as failed entries, by error kind",
		}, []string{"kind"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "payroll_run_duration_seconds",
			Help:    "Duration of aggregator runs including the rate fetch",
			Buckets: durationBuckets,
		}),
		RateFetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payroll_rate_fetch_duration_seconds",
			Help:    "Duration of rate provider calls",
			Buckets: durationBuckets,
		}, []string{"provider"}),
		RateFetchFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "payroll_rate_fetch_failures_total",
			Help: "Failed rate provider calls",
		}, []string{"provider"}),
		RateCacheFallbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "payroll_rate_cache_fallbacks_total",
			Help: "Runs served from a cached rate snapshot after a provider failure",
		}),
		AdvancesIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "payroll_advances_issued_total",
			Help: "Early wage access advances paid out",
		}),
		AdvanceAmountIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "payroll_advance_amount_issued",
			Help: "Sum of early wage access advances paid out, in base currency",
		}),
	}
}

// ObserveRun records an aggregator run. Call with time.Now() at the start.
func (m *Metrics) ObserveRun(status string, start time.Time) {
	if m == nil {
		return
	}
	m.PayrollRuns.WithLabelValues(status).Inc()
	m.RunDuration.Observe(time.Since(start).Seconds())
}

// IncrementEmployeesProcessed counts successfully priced employees.
func (m *Metrics) IncrementEmployeesProcessed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.EmployeesProcessed.Add(float64(n))
}

// IncrementEmployeeFailure counts one isolated employee failure.
func (m *Metrics) IncrementEmployeeFailure(kind string) {
	if m == nil {
		return
	}
	m.EmployeeFailures.WithLabelValues(kind).Inc()
}

// ObserveRateFetch records a provider call and whether it failed.
func (m *Metrics) ObserveRateFetch(provider string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.RateFetchDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	if err != nil {
		m.RateFetchFailures.WithLabelValues(provider).Inc()
	}
}

// IncrementRateCacheFallback counts a stale-snapshot fallback.
func (m *Metrics) IncrementRateCacheFallback() {
	if m == nil {
		return
	}
	m.RateCacheFallbacks.Inc()
}

// ObserveAdvance records an issued advance.
func (m *Metrics) ObserveAdvance(amount float64) {
	if m == nil {
		return
	}
	m.AdvancesIssued.Inc()
	m.AdvanceAmountIssued.Add(amount)
}
