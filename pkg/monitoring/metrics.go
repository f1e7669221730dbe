package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Service name for metrics
	ServiceName = "pottypal"
)

// Cache tiers and eviction reasons used as label values.
const (
	TierMemory     = "memory"
	TierPersistent = "persistent"
	TierFuzzy      = "fuzzy"

	EvictExpired = "expired"
	EvictEmpty   = "empty"
	EvictStale   = "stale"
	EvictCorrupt = "corrupt"
)

var (
	// Tool request metrics
	ToolRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pottypal_tool_requests_total",
			Help: "Total number of MCP tool requests processed",
		},
		[]string{"tool", "status"},
	)

	ToolRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pottypal_tool_request_duration_seconds",
			Help:    "MCP tool request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"tool"},
	)

	// External service metrics
	ExternalServiceRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pottypal_external_service_requests_total",
			Help: "Total number of external service requests",
		},
		[]string{"service", "operation", "status"},
	)

	ExternalServiceRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pottypal_external_service_request_duration_seconds",
			Help:    "External service request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
		},
		[]string{"service", "operation"},
	)

	// Rate limiting metrics
	RateLimitExceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pottypal_rate_limit_exceeded_total",
			Help: "Total number of requests that had to wait for a rate limiter",
		},
		[]string{"service"},
	)

	RateLimitWaitTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pottypal_rate_limit_wait_duration_seconds",
			Help:    "Time spent waiting for rate limits",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		},
		[]string{"service"},
	)

	// Cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pottypal_cache_hits_total",
			Help: "Total number of place cache hits by tier",
		},
		[]string{"tier"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pottypal_cache_misses_total",
			Help: "Total number of place cache misses",
		},
		[]string{"cache_type"},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pottypal_cache_evictions_total",
			Help: "Total number of cache entries evicted by reason",
		},
		[]string{"reason"},
	)

	CacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pottypal_cache_size",
			Help: "Current number of entries in a cache tier",
		},
		[]string{"cache_type"},
	)

	// Fetch pipeline metrics
	FetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pottypal_fetch_total",
			Help: "Place fetches by outcome",
		},
		[]string{"outcome"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pottypal_fetch_duration_seconds",
			Help:    "Place fetch duration in seconds by outcome",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
		},
		[]string{"outcome"},
	)

	EnrichmentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pottypal_enrichment_total",
			Help: "Travel estimate lookups by travel mode and status",
		},
		[]string{"mode", "status"},
	)

	RegionDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pottypal_region_decisions_total",
			Help: "Region change decisions taken by the controller",
		},
		[]string{"decision"},
	)

	// Error metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pottypal_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)

	// System metrics
	SystemInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pottypal_system_info",
			Help: "System information",
		},
		[]string{"version", "go_version", "build_commit", "build_date"},
	)

	GoRoutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pottypal_goroutines",
			Help: "Number of goroutines",
		},
	)

	MemoryUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pottypal_memory_usage_bytes",
			Help: "Memory usage in bytes",
		},
	)

	GCRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pottypal_gc_runs",
			Help: "Number of completed GC cycles",
		},
	)
)

// ServiceHealth is the body served on the health endpoint.
type ServiceHealth struct {
	Service       string                 `json:"service"`
	Version       string                 `json:"version"`
	Status        string                 `json:"status"` // "healthy", "degraded", "unhealthy"
	Uptime        time.Duration          `json:"uptime"`
	UptimeSeconds int64                  `json:"uptime_seconds"`
	StartTime     time.Time              `json:"start_time,omitempty"`
	Connections   map[string]ConnStatus  `json:"connections"`
	Metrics       map[string]interface{} `json:"metrics,omitempty"`
}

// ConnStatus is the last probe result for one dependency.
type ConnStatus struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "connected", "degraded", "error"
	Latency int64  `json:"latency_ms,omitempty"`
	Error   string `json:"last_error,omitempty"`
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordToolRequest(tool string, duration time.Duration, success bool) {
	ToolRequestsTotal.WithLabelValues(tool, status(success)).Inc()
	ToolRequestDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordExternalServiceRequest(service, operation string, duration time.Duration, success bool) {
	ExternalServiceRequestsTotal.WithLabelValues(service, operation, status(success)).Inc()
	ExternalServiceRequestDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

func RecordCacheHit(tier string) {
	CacheHits.WithLabelValues(tier).Inc()
}

func RecordCacheMiss(cacheType string) {
	CacheMisses.WithLabelValues(cacheType).Inc()
}

func RecordCacheEviction(reason string) {
	CacheEvictions.WithLabelValues(reason).Inc()
}

func UpdateCacheSize(cacheType string, size int) {
	CacheSize.WithLabelValues(cacheType).Set(float64(size))
}

func RecordRateLimitExceeded(service string) {
	RateLimitExceeded.WithLabelValues(service).Inc()
}

func RecordRateLimitWait(service string, duration time.Duration) {
	RateLimitWaitTime.WithLabelValues(service).Observe(duration.Seconds())
}

func RecordFetch(outcome string, duration time.Duration) {
	FetchTotal.WithLabelValues(outcome).Inc()
	FetchDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func RecordEnrichment(mode string, success bool) {
	EnrichmentTotal.WithLabelValues(mode, status(success)).Inc()
}

func RecordRegionDecision(decision string) {
	RegionDecisions.WithLabelValues(decision).Inc()
}

func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
