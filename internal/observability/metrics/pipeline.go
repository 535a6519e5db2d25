package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

// PipelineMetrics implements ports.PipelineObserver on Prometheus collectors.
type PipelineMetrics struct {
	service string

	searchAttemptsTotal *prometheus.CounterVec
	searchBatchResults  *prometheus.HistogramVec
	searchFailedTotal   *prometheus.CounterVec
	synthesisAttempts   *prometheus.HistogramVec
	synthesisFailures   *prometheus.CounterVec
	citationsResolved   *prometheus.HistogramVec
	pipelineRunsTotal   *prometheus.CounterVec
	pipelineDuration    *prometheus.HistogramVec
}

func NewPipelineMetrics(service string, registerer prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		service: service,
		searchAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "research",
				Subsystem: "search",
				Name:      "attempts_total",
				Help:      "Search attempts by outcome.",
			},
			[]string{"service", "outcome"},
		),
		searchBatchResults: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "research",
				Subsystem: "search",
				Name:      "batch_results",
				Help:      "Normalized results per search batch.",
				Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
			},
			[]string{"service"},
		),
		searchFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "research",
				Subsystem: "search",
				Name:      "failed_queries_total",
				Help:      "Queries that exhausted their attempts or failed fatally.",
			},
			[]string{"service"},
		),
		synthesisAttempts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "research",
				Subsystem: "synthesis",
				Name:      "attempts",
				Help:      "Completion attempts per synthesis operation.",
				Buckets:   []float64{1, 2, 3, 4, 5, 8},
			},
			[]string{"service", "operation"},
		),
		synthesisFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "research",
				Subsystem: "synthesis",
				Name:      "failures_total",
				Help:      "Synthesis operations that failed after retries.",
			},
			[]string{"service", "operation"},
		),
		citationsResolved: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "research",
				Subsystem: "citation",
				Name:      "resolved",
				Help:      "Citations resolved per answer.",
				Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
			},
			[]string{"service"},
		),
		pipelineRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "research",
				Subsystem: "pipeline",
				Name:      "runs_total",
				Help:      "Research pipeline runs by status.",
			},
			[]string{"service", "status"},
		),
		pipelineDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "research",
				Subsystem: "pipeline",
				Name:      "duration_seconds",
				Help:      "Research pipeline duration in seconds by status.",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
			},
			[]string{"service", "status"},
		),
	}

	registerer.MustRegister(
		m.searchAttemptsTotal,
		m.searchBatchResults,
		m.searchFailedTotal,
		m.synthesisAttempts,
		m.synthesisFailures,
		m.citationsResolved,
		m.pipelineRunsTotal,
		m.pipelineDuration,
	)
	return m
}

func (m *PipelineMetrics) ObserveSearchAttempt(outcome domain.AttemptOutcome) {
	m.searchAttemptsTotal.WithLabelValues(m.service, string(outcome)).Inc()
}

func (m *PipelineMetrics) ObserveSearchBatch(_ int, results, failed int) {
	m.searchBatchResults.WithLabelValues(m.service).Observe(float64(results))
	if failed > 0 {
		m.searchFailedTotal.WithLabelValues(m.service).Add(float64(failed))
	}
}

func (m *PipelineMetrics) ObserveSynthesisAttempts(operation string, attempts int, err error) {
	m.synthesisAttempts.WithLabelValues(m.service, operation).Observe(float64(attempts))
	if err != nil {
		m.synthesisFailures.WithLabelValues(m.service, operation).Inc()
	}
}

func (m *PipelineMetrics) ObserveCitations(resolved int) {
	m.citationsResolved.WithLabelValues(m.service).Observe(float64(resolved))
}

func (m *PipelineMetrics) ObservePipeline(status string, duration time.Duration) {
	m.pipelineRunsTotal.WithLabelValues(m.service, status).Inc()
	m.pipelineDuration.WithLabelValues(m.service, status).Observe(duration.Seconds())
}
