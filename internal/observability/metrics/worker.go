package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/research-assistant/internal/core/domain"
	"github.com/kirillkom/research-assistant/internal/core/ports"
)

type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string
	pipeline *PipelineMetrics

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "research",
			Subsystem: "worker",
			Name:      "requests_total",
			Help:      "Total handled research requests by status.",
		},
		[]string{"service", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "research",
			Subsystem: "worker",
			Name:      "request_duration_seconds",
			Help:      "Research request handling duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "research",
			Subsystem: "worker",
			Name:      "requests_in_flight",
			Help:      "Number of research requests being handled.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(requestTotal, requestDuration, requestInFlight)

	return &WorkerMetrics{
		registry:        registry,
		service:         service,
		pipeline:        NewPipelineMetrics(service, registry),
		requestTotal:    requestTotal,
		requestDuration: requestDuration,
		requestInFlight: requestInFlight,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Pipeline returns the observer sharing this registry.
func (m *WorkerMetrics) Pipeline() *PipelineMetrics {
	return m.pipeline
}

func (m *WorkerMetrics) StartRequest() {
	m.requestInFlight.Inc()
}

func (m *WorkerMetrics) FinishRequest(duration time.Duration, err error) {
	m.requestInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.requestTotal.WithLabelValues(m.service, status).Inc()
	m.requestDuration.WithLabelValues(m.service, status).Observe(duration.Seconds())
}

// Instrument wraps handler with request metrics.
func (m *WorkerMetrics) Instrument(handler ports.RequestHandler) ports.RequestHandler {
	return instrumentedHandler{next: handler, metrics: m}
}

type instrumentedHandler struct {
	next    ports.RequestHandler
	metrics *WorkerMetrics
}

func (h instrumentedHandler) HandleRequest(ctx context.Context, req domain.ResearchRequest, reply string) error {
	start := time.Now()
	h.metrics.StartRequest()
	err := h.next.HandleRequest(ctx, req, reply)
	h.metrics.FinishRequest(time.Since(start), err)
	return err
}
