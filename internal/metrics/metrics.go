package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ── HTTP request metrics (RED method) ──────────────────────────────────

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tvl_extractor",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"method", "path", "status_code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tvl_extractor",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	HTTPRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tvl_extractor",
		Subsystem: "http",
		Name:      "requests_in_flight",
		Help:      "Number of HTTP requests currently being processed.",
	})
)

// ── Extraction metrics ─────────────────────────────────────────────────

var (
	ExtractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tvl_extractor",
		Subsystem: "extraction",
		Name:      "total",
		Help:      "Worklist entries processed, by terminal status.",
	}, []string{"protocol", "chain", "status"})

	ExtractionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tvl_extractor",
		Subsystem: "extraction",
		Name:      "duration_seconds",
		Help:      "Wall time of one extraction including retries.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"protocol", "chain"})

	ExtractionRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tvl_extractor",
		Subsystem: "extraction",
		Name:      "retries_total",
		Help:      "Failed attempts that were retried.",
	}, []string{"protocol", "chain"})

	ExtractionLastSuccess = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tvl_extractor",
		Subsystem: "extraction",
		Name:      "last_success_timestamp",
		Help:      "Unix timestamp of the last successful extraction.",
	}, []string{"protocol", "chain"})

	DiscoveryFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tvl_extractor",
		Subsystem: "discovery",
		Name:      "fallbacks_total",
		Help:      "Address discoveries that fell back to the static list.",
	}, []string{"protocol", "chain"})
)

// ── Run metrics ────────────────────────────────────────────────────────

var (
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tvl_extractor",
		Subsystem: "run",
		Name:      "total",
		Help:      "Completed pipeline runs by validation outcome.",
	}, []string{"result"})

	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tvl_extractor",
		Subsystem: "run",
		Name:      "duration_seconds",
		Help:      "Wall time of a full pipeline run.",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
	})

	RunSuccessRate = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tvl_extractor",
		Subsystem: "run",
		Name:      "success_rate",
		Help:      "Succeeded / attempted extractions in the last run.",
	})

	ValidationIssues = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tvl_extractor",
		Subsystem: "validation",
		Name:      "issues",
		Help:      "Validation issues in the last run by level.",
	}, []string{"level"})
)

// ── Business metrics ───────────────────────────────────────────────────

var (
	// ChainTVL is a float rendering for dashboards only; reports keep exact integers.
	ChainTVL = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tvl_extractor",
		Subsystem: "business",
		Name:      "chain_tvl_tokens",
		Help:      "Tracked token locked per chain in the last run, in whole tokens.",
	}, []string{"chain"})

	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tvl_extractor",
		Subsystem: "alerts",
		Name:      "sent_total",
		Help:      "Run alerts delivered.",
	}, []string{"status"})

	AlertsDeduplicatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tvl_extractor",
		Subsystem: "alerts",
		Name:      "deduplicated_total",
		Help:      "Run alerts suppressed by deduplication.",
	})
)
