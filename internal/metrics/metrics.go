package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 擷取流程
	ExtractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recipe_extractions_total",
			Help: "Total number of extraction requests by outcome",
		},
		[]string{"outcome", "tier"}, // outcome: success / 失敗原因
	)

	ExtractionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recipe_extraction_duration_seconds",
			Help:    "End-to-end extraction latency",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		},
		[]string{"tier"},
	)

	ExtractionConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recipe_extraction_confidence",
			Help:    "Confidence score of finished extractions",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		},
	)

	TierRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recipe_tier_runs_total",
			Help: "Tier executions by result (ok, skipped, error)",
		},
		[]string{"tier", "result"},
	)

	// 爬取工作
	ScrapeJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recipe_scrape_jobs_total",
			Help: "Scrape jobs by content type and outcome",
		},
		[]string{"content_type", "outcome"},
	)

	// 模型呼叫
	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recipe_provider_calls_total",
			Help: "Model provider calls by outcome",
		},
		[]string{"provider", "outcome"},
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recipe_provider_latency_seconds",
			Help:    "Model provider call latency",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "recipe_provider_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"provider"},
	)

	// 快取與額度
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recipe_cache_lookups_total",
			Help: "Cache lookups by kind and result (hit, miss, error)",
		},
		[]string{"kind", "result"},
	)

	UsageDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recipe_usage_decisions_total",
			Help: "Usage gate decisions (allowed, denied, fail_open)",
		},
		[]string{"decision"},
	)

	// HTTP
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recipe_http_requests_total",
			Help: "HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recipe_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recipe_job_queue_depth",
			Help: "Pending asynchronous extraction jobs",
		},
	)
)

// RecordProviderCall 記錄一次模型呼叫
func RecordProviderCall(provider, outcome string, d time.Duration) {
	ProviderCalls.WithLabelValues(provider, outcome).Inc()
	ProviderLatency.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordExtraction 記錄一次擷取結果
func RecordExtraction(outcome, tier string, confidence float64, d time.Duration) {
	ExtractionsTotal.WithLabelValues(outcome, tier).Inc()
	ExtractionDuration.WithLabelValues(tier).Observe(d.Seconds())
	if confidence > 0 {
		ExtractionConfidence.Observe(confidence)
	}
}
