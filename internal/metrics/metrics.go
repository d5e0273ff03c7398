package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline metrics
	PipelinesStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_pipelines_started_total",
			Help: "Total number of research pipelines started",
		},
		[]string{"tier"},
	)

	PipelinesCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_pipelines_completed_total",
			Help: "Total number of research pipelines completed",
		},
		[]string{"tier", "status"},
	)

	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "research_pipeline_duration_seconds",
			Help:    "End-to-end pipeline duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"tier"},
	)

	ClassificationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_classification_failures_total",
			Help: "Classifier errors that failed open to the default tier",
		},
	)

	// Round / provider metrics
	RoundsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_rounds_executed_total",
			Help: "Research rounds executed by purpose",
		},
		[]string{"purpose"},
	)

	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_provider_calls_total",
			Help: "Provider search calls by provider and settled status",
		},
		[]string{"provider", "status"},
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "research_provider_latency_seconds",
			Help:    "Latency of provider search calls",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"provider"},
	)

	GapScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_gap_score",
			Help:    "Coverage score reported by the reflector per round",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	SourcesSelected = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_sources_selected",
			Help:    "Sources selected for synthesis per pipeline",
			Buckets: []float64{1, 3, 5, 10, 15, 25},
		},
	)

	// Cost metrics
	TokensUsed = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_tokens_used",
			Help:    "Tokens used per pipeline",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000},
		},
	)

	CostUSD = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_cost_usd",
			Help:    "Cost in USD per pipeline",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5},
		},
	)

	// Session metrics
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_sessions_created_total",
			Help: "Total sessions created",
		},
	)

	SessionsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_sessions_completed_total",
			Help: "Sessions transitioned to complete, by boundary reason",
		},
		[]string{"reason"},
	)

	SessionCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "research_session_cache_size",
			Help: "Sessions held in the local cache",
		},
	)

	SessionPersistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_session_persist_failures_total",
			Help: "Auto-persist attempts that failed and will be retried",
		},
	)

	RecallSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_recall_searches_total",
			Help: "Recall repository searches by outcome",
		},
		[]string{"outcome"}, // match|no_match|ambiguous
	)

	// Streaming metrics
	StageEventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_stage_events_total",
			Help: "Stage events emitted by type",
		},
		[]string{"type"},
	)

	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_embedding_requests_total",
			Help: "Embedding service requests by cache outcome",
		},
		[]string{"model", "outcome"},
	)
)
