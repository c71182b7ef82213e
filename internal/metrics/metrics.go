package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the AI core.
type Metrics struct {
	// Model execution metrics
	ModelRequests *prometheus.CounterVec
	ModelErrors   *prometheus.CounterVec
	ModelLatency  *prometheus.HistogramVec
	ModelTokens   *prometheus.CounterVec
	ModelRetries  *prometheus.CounterVec
	FallbackUsed  *prometheus.CounterVec

	// Pattern metrics
	PatternsDiscovered *prometheus.CounterVec
	PatternsValidated  *prometheus.CounterVec
	PatternsRejected   *prometheus.CounterVec
	PatternsSuperseded prometheus.Counter
	PatternQueries     prometheus.Counter

	// Learning metrics
	LearningCycles       *prometheus.CounterVec
	HypothesesGenerated  prometheus.Counter
	ExperimentsRun       *prometheus.CounterVec
	LearningsApplied     *prometheus.CounterVec
	LearningCycleLatency prometheus.Histogram

	// System metrics
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	EventsPublished *prometheus.CounterVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// New creates and registers all Prometheus metrics. Registration happens
// once per process; subsequent calls return the shared instance.
func New() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			ModelRequests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "anchor_model_requests_total",
					Help: "Total number of model execution requests",
				},
				[]string{"task_kind", "model", "success"},
			),
			ModelErrors: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "anchor_model_errors_total",
					Help: "Total number of model execution errors",
				},
				[]string{"task_kind", "model", "error_type"},
			),
			ModelLatency: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "anchor_model_request_duration_seconds",
					Help:    "Model execution duration in seconds",
					Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to 51s
				},
				[]string{"task_kind", "model"},
			),
			ModelTokens: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "anchor_model_tokens_total",
					Help: "Total tokens consumed by model executions",
				},
				[]string{"task_kind", "model"},
			),
			ModelRetries: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "anchor_model_retries_total",
					Help: "Total number of model execution retries",
				},
				[]string{"task_kind", "model"},
			),
			FallbackUsed: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "anchor_model_fallback_total",
					Help: "Total number of fallback model invocations",
				},
				[]string{"task_kind", "success"},
			),

			PatternsDiscovered: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "anchor_patterns_discovered_total",
					Help: "Candidate patterns produced by clustering",
				},
				[]string{"category"},
			),
			PatternsValidated: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "anchor_patterns_validated_total",
					Help: "Patterns surviving cross-validation",
				},
				[]string{"category"},
			),
			PatternsRejected: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "anchor_patterns_rejected_total",
					Help: "Candidate patterns rejected during validation",
				},
				[]string{"category", "reason"},
			),
			PatternsSuperseded: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "anchor_patterns_superseded_total",
					Help: "Patterns marked as superseded by a newer pattern",
				},
			),
			PatternQueries: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "anchor_pattern_queries_total",
					Help: "Similarity queries served by the pattern store",
				},
			),

			LearningCycles: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "anchor_learning_cycles_total",
					Help: "Total number of learning cycles processed",
				},
				[]string{"result"},
			),
			HypothesesGenerated: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "anchor_hypotheses_generated_total",
					Help: "Hypotheses generated across learning cycles",
				},
			),
			ExperimentsRun: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "anchor_experiments_total",
					Help: "Experiments by terminal status",
				},
				[]string{"status"},
			),
			LearningsApplied: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "anchor_learnings_applied_total",
					Help: "Validated learnings forwarded for application",
				},
				[]string{"impact"},
			),
			LearningCycleLatency: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "anchor_learning_cycle_duration_seconds",
					Help:    "ProcessInteraction duration in seconds",
					Buckets: prometheus.DefBuckets,
				},
			),

			CacheHits: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "anchor_cache_hits_total",
					Help: "Total number of response cache hits",
				},
			),
			CacheMisses: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "anchor_cache_misses_total",
					Help: "Total number of response cache misses",
				},
			),
			EventsPublished: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "anchor_events_published_total",
					Help: "Total number of events published to the bus",
				},
				[]string{"subject"},
			),
		}
	})

	return sharedMetrics
}

// RecordModelRequest records one terminal model execution outcome.
func (m *Metrics) RecordModelRequest(kind, model string, success bool, latencySeconds float64, tokens int) {
	successStr := "false"
	if success {
		successStr = "true"
	}
	m.ModelRequests.WithLabelValues(kind, model, successStr).Inc()
	m.ModelLatency.WithLabelValues(kind, model).Observe(latencySeconds)
	if tokens > 0 {
		m.ModelTokens.WithLabelValues(kind, model).Add(float64(tokens))
	}
}

// RecordLearningCycle records a completed ProcessInteraction call.
func (m *Metrics) RecordLearningCycle(result string, durationSeconds float64) {
	m.LearningCycles.WithLabelValues(result).Inc()
	m.LearningCycleLatency.Observe(durationSeconds)
}
