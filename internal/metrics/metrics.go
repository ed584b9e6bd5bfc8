// Package metrics defines the Prometheus collectors for ingestion, index
// build, answering and the HTTP surface, registered on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Answer outcome labels.
const (
	StatusOK    = "ok"
	StatusError = "error"
	StatusBusy  = "busy"
)

// Metrics holds all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	DocumentsIngested   *prometheus.CounterVec
	IndexBuildSeconds   prometheus.Histogram
	IndexChunks         prometheus.Gauge
	AnswersTotal        *prometheus.CounterVec
	AnswerDuration      prometheus.Histogram
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates and registers all collectors plus the Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		DocumentsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kbchat_documents_ingested_total",
				Help: "Documents extracted and built during ingestion, by content type.",
			},
			[]string{"content_type"},
		),
		IndexBuildSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "kbchat_index_build_seconds",
				Help:    "Wall time of the one-time index build.",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
		),
		IndexChunks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "kbchat_index_chunks",
				Help: "Number of chunks held by the index.",
			},
		),
		AnswersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kbchat_answers_total",
				Help: "Answer turns by outcome (ok, error, busy).",
			},
			[]string{"status"},
		),
		AnswerDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "kbchat_answer_duration_seconds",
				Help:    "Time from question to completed answer.",
				Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
			},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kbchat_http_requests_total",
				Help: "HTTP requests by method, route and status.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kbchat_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "route"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.DocumentsIngested,
		m.IndexBuildSeconds,
		m.IndexChunks,
		m.AnswersTotal,
		m.AnswerDuration,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)
	return m
}

// Handler returns the scrape handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gatherer exposes the registry for tests and embedding.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *Metrics) DocumentIngested(contentType string) {
	if m == nil {
		return
	}
	m.DocumentsIngested.WithLabelValues(contentType).Inc()
}

func (m *Metrics) IndexBuilt(d time.Duration, chunks int) {
	if m == nil {
		return
	}
	m.IndexBuildSeconds.Observe(d.Seconds())
	m.IndexChunks.Set(float64(chunks))
}

func (m *Metrics) AnswerObserved(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.AnswersTotal.WithLabelValues(status).Inc()
	if status == StatusOK {
		m.AnswerDuration.Observe(d.Seconds())
	}
}
