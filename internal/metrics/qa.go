package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "portfolioqa"

// Generation Prometheus metrics.
var (
	GenerationRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_requests_total",
			Help:      "Total number of chat completion requests",
		},
		[]string{"model", "status"},
	)

	GenerationRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_request_duration_seconds",
			Help:      "Chat completion request duration in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40},
		},
		[]string{"model"},
	)

	GenerationTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_tokens_total",
			Help:      "Total chat completion tokens consumed",
		},
		[]string{"model", "type"}, // "prompt" / "completion" / "total"
	)

	GenerationErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_errors_total",
			Help:      "Total chat completion errors",
		},
		[]string{"model", "error_type"},
	)
)

// Answer pipeline Prometheus metrics.
var (
	AnswersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_total",
			Help:      "Answered questions by outcome",
		},
		[]string{"outcome"}, // "ok" / "degraded" / "error"
	)

	AnswerDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "answer_duration_seconds",
			Help:      "End-to-end answer latency in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40},
		},
	)

	RetrievedDocuments = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieved_documents",
			Help:      "Number of documents passing the similarity threshold per question",
			Buckets:   []float64{0, 1, 2, 3, 4, 6, 8},
		},
	)

	IndexBuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_builds_total",
			Help:      "Index builds by backend and status",
		},
		[]string{"backend", "status"},
	)

	AnalyticsWriteFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analytics_write_failures_total",
			Help:      "Interactions that could not be recorded",
		},
	)
)

var registerQAOnce sync.Once

// RegisterQAMetrics registers generation and answer pipeline metrics. Safe to call more than once.
func RegisterQAMetrics() {
	registerQAOnce.Do(func() {
		prometheus.MustRegister(
			GenerationRequestsTotal,
			GenerationRequestDuration,
			GenerationTokensTotal,
			GenerationErrorsTotal,
			AnswersTotal,
			AnswerDuration,
			RetrievedDocuments,
			IndexBuildsTotal,
			AnalyticsWriteFailuresTotal,
		)
	})
}

// RegisterAll registers every metric of the service.
func RegisterAll() {
	RegisterProviderMetrics()
	RegisterQAMetrics()
}
