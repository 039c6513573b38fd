package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for imports and background jobs.
type Metrics struct {
	runs       *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	importRows *prometheus.CounterVec
	imports    *prometheus.CounterVec
	importTime *prometheus.HistogramVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// ImportCounts is the per-outcome row tally of one ingestion.
type ImportCounts struct {
	Inserted int
	Updated  int
	Skipped  int
	Invalid  int
}

// ObserveImport records one ingestion run and its row outcomes.
func (m *Metrics) ObserveImport(mode string, counts ImportCounts, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.imports.WithLabelValues(mode, status).Inc()
	m.importTime.WithLabelValues(mode).Observe(elapsed.Seconds())
	if err != nil {
		return
	}
	add := func(outcome string, n int) {
		if n > 0 {
			m.importRows.WithLabelValues(mode, outcome).Add(float64(n))
		}
	}
	add("inserted", counts.Inserted)
	add("updated", counts.Updated)
	add("skipped", counts.Skipped)
	add("invalid", counts.Invalid)
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pricebook_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pricebook_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pricebook_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	imports := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pricebook_imports_total",
		Help: "CSV ingestions partitioned by mode and status.",
	}, []string{"mode", "status"})
	importRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pricebook_import_rows_total",
		Help: "Ingested CSV rows partitioned by mode and outcome.",
	}, []string{"mode", "outcome"})
	importTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pricebook_import_duration_seconds",
		Help:    "Duration in seconds of CSV ingestions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})
	registerer.MustRegister(runs, failures, duration, imports, importRows, importTime)
	return &Metrics{
		runs:       runs,
		failures:   failures,
		duration:   duration,
		imports:    imports,
		importRows: importRows,
		importTime: importTime,
	}
}
