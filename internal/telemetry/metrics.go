// Package telemetry exposes Prometheus collectors for ingestion, retrieval
// and background embedding. Every method is safe on a nil *Metrics so
// components can run without instrumentation.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ragkb"

// Degraded write stages.
const (
	StageKeywordWrite   = "keyword_write"
	StageKeywordCleanup = "keyword_cleanup"
	StageVectorCleanup  = "vector_cleanup"
)

// Background embedding outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeQueueFull = "queue_full"
)

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	chunksIngested   prometheus.Counter
	documentsIngest  prometheus.Counter
	degradedWrites   *prometheus.CounterVec
	queryDuration    *prometheus.HistogramVec
	queryResults     *prometheus.HistogramVec
	retrievalErrors  *prometheus.CounterVec
	rerankFallbacks  prometheus.Counter
	backgroundEmbeds *prometheus.CounterVec
}

// New builds and registers every collector, plus the Go runtime and process
// collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		chunksIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "chunks_ingested_total",
			Help: "Chunks embedded and written to the vector store.",
		}),
		documentsIngest: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ingestions_total",
			Help: "Successful ingestion calls.",
		}),
		degradedWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "degraded_writes_total",
			Help: "Best-effort writes or cleanups that failed, by stage.",
		}, []string{"stage"}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "query_duration_seconds",
			Help:    "Query latency by retrieval mode.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"mode"}),
		queryResults: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "query_results",
			Help:    "Results returned per query by retrieval mode.",
			Buckets: []float64{0, 1, 3, 5, 10, 20, 50},
		}, []string{"mode"}),
		retrievalErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "retrieval_errors_total",
			Help: "Failed retrieval paths, by path (vector or keyword).",
		}, []string{"path"}),
		rerankFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rerank_fallbacks_total",
			Help: "Rerank calls that fell back to the fused order.",
		}),
		backgroundEmbeds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "background_embeds_total",
			Help: "Background embedding jobs by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(
		m.chunksIngested,
		m.documentsIngest,
		m.degradedWrites,
		m.queryDuration,
		m.queryResults,
		m.retrievalErrors,
		m.rerankFallbacks,
		m.backgroundEmbeds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveIngest records one successful ingestion of n chunks.
func (m *Metrics) ObserveIngest(chunks int) {
	if m == nil {
		return
	}
	m.documentsIngest.Inc()
	m.chunksIngested.Add(float64(chunks))
}

// DegradedWrite counts one absorbed failure at stage.
func (m *Metrics) DegradedWrite(stage string) {
	if m == nil {
		return
	}
	m.degradedWrites.WithLabelValues(stage).Inc()
}

// ObserveQuery records latency and result count for mode.
func (m *Metrics) ObserveQuery(mode string, took time.Duration, results int) {
	if m == nil {
		return
	}
	m.queryDuration.WithLabelValues(mode).Observe(took.Seconds())
	m.queryResults.WithLabelValues(mode).Observe(float64(results))
}

// RetrievalError counts a failed vector or keyword path.
func (m *Metrics) RetrievalError(path string) {
	if m == nil {
		return
	}
	m.retrievalErrors.WithLabelValues(path).Inc()
}

// RerankFallback counts one rerank that returned the original order.
func (m *Metrics) RerankFallback() {
	if m == nil {
		return
	}
	m.rerankFallbacks.Inc()
}

// BackgroundEmbed counts one background job by outcome.
func (m *Metrics) BackgroundEmbed(outcome string) {
	if m == nil {
		return
	}
	m.backgroundEmbeds.WithLabelValues(outcome).Inc()
}
