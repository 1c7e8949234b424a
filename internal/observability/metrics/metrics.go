package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics captures enrichment and metering health signals.
type PipelineMetrics struct {
	enrichmentRuns *prometheus.CounterVec
	indexFetches   *prometheus.CounterVec
	fetchDuration  *prometheus.HistogramVec
	cacheHits      prometheus.Counter
	tokenRefreshes *prometheus.CounterVec
	usageIncrement *prometheus.CounterVec
	quotaDenials   *prometheus.CounterVec
	jobRuns        *prometheus.CounterVec
	jobErrors      *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
}

var (
	pipelineMetricsOnce sync.Once
	pipelineMetrics     *PipelineMetrics
)

// Pipeline returns the singleton pipeline metrics registry.
func Pipeline() *PipelineMetrics {
	pipelineMetricsOnce.Do(func() {
		pipelineMetrics = newPipelineMetrics(prometheus.DefaultRegisterer)
	})
	return pipelineMetrics
}

// ResetPipelineMetricsForTest resets the metrics singleton for tests.
func ResetPipelineMetricsForTest() {
	pipelineMetricsOnce = sync.Once{}
	pipelineMetrics = nil
}

func newPipelineMetrics(registerer prometheus.Registerer) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	enrichmentRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldscope_enrichment_runs_total",
		Help: "Enrichment orchestrator runs by outcome.",
	}, []string{"outcome"})
	indexFetches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldscope_index_fetches_total",
		Help: "Per-index imagery fetches by index kind and outcome.",
	}, []string{"index", "outcome"})
	fetchDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fieldscope_index_fetch_duration_seconds",
		Help:    "Imagery fetch latency including raster decode.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"index"})
	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fieldscope_imagery_cache_hits_total",
		Help: "Imagery result cache hits.",
	})
	tokenRefreshes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldscope_imagery_token_refreshes_total",
		Help: "Bearer token refreshes by outcome.",
	}, []string{"outcome"})
	usageIncrement := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldscope_usage_increments_total",
		Help: "Usage counter increments by resource kind.",
	}, []string{"resource"})
	quotaDenials := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldscope_quota_denials_total",
		Help: "Actions rejected by quota gating.",
	}, []string{"resource", "tier"})
	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldscope_scheduler_job_runs_total",
		Help: "Scheduler job runs by name.",
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldscope_scheduler_job_errors_total",
		Help: "Scheduler job errors by name.",
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fieldscope_scheduler_job_duration_seconds",
		Help:    "Scheduler job latency.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	}, []string{"job"})

	registerer.MustRegister(
		enrichmentRuns, indexFetches, fetchDuration, cacheHits,
		tokenRefreshes, usageIncrement, quotaDenials,
		jobRuns, jobErrors, jobDuration,
	)

	return &PipelineMetrics{
		enrichmentRuns: enrichmentRuns,
		indexFetches:   indexFetches,
		fetchDuration:  fetchDuration,
		cacheHits:      cacheHits,
		tokenRefreshes: tokenRefreshes,
		usageIncrement: usageIncrement,
		quotaDenials:   quotaDenials,
		jobRuns:        jobRuns,
		jobErrors:      jobErrors,
		jobDuration:    jobDuration,
	}
}

func (m *PipelineMetrics) IncEnrichmentRun(outcome string) {
	m.enrichmentRuns.WithLabelValues(outcome).Inc()
}

func (m *PipelineMetrics) IncIndexFetch(index, outcome string) {
	m.indexFetches.WithLabelValues(index, outcome).Inc()
}

func (m *PipelineMetrics) ObserveFetchDuration(index string, d time.Duration) {
	m.fetchDuration.WithLabelValues(index).Observe(d.Seconds())
}

func (m *PipelineMetrics) IncCacheHit() {
	m.cacheHits.Inc()
}

func (m *PipelineMetrics) IncTokenRefresh(outcome string) {
	m.tokenRefreshes.WithLabelValues(outcome).Inc()
}

func (m *PipelineMetrics) IncUsageIncrement(resource string) {
	m.usageIncrement.WithLabelValues(resource).Inc()
}

func (m *PipelineMetrics) IncQuotaDenial(resource, tier string) {
	m.quotaDenials.WithLabelValues(resource, tier).Inc()
}

func (m *PipelineMetrics) IncJobRun(job string) {
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *PipelineMetrics) IncJobError(job string) {
	m.jobErrors.WithLabelValues(job).Inc()
}

func (m *PipelineMetrics) ObserveJobDuration(job string, d time.Duration) {
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}
