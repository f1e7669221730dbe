package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordToolRequest(t *testing.T) {
	ToolRequestsTotal.Reset()

	RecordToolRequest("find_restrooms", 100*time.Millisecond, true)
	RecordToolRequest("find_restrooms", 200*time.Millisecond, false)

	if got := testutil.ToFloat64(ToolRequestsTotal.WithLabelValues("find_restrooms", "success")); got != 1 {
		t.Errorf("successful requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(ToolRequestsTotal.WithLabelValues("find_restrooms", "error")); got != 1 {
		t.Errorf("failed requests = %v, want 1", got)
	}
}

func TestRecordExternalServiceRequest(t *testing.T) {
	ExternalServiceRequestsTotal.Reset()

	RecordExternalServiceRequest("places", "search_nearby", 500*time.Millisecond, true)
	RecordExternalServiceRequest("distance_matrix", "lookup", time.Second, false)

	if got := testutil.ToFloat64(ExternalServiceRequestsTotal.WithLabelValues("places", "search_nearby", "success")); got != 1 {
		t.Errorf("places requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(ExternalServiceRequestsTotal.WithLabelValues("distance_matrix", "lookup", "error")); got != 1 {
		t.Errorf("matrix errors = %v, want 1", got)
	}
}

func TestCacheMetrics(t *testing.T) {
	CacheHits.Reset()
	CacheMisses.Reset()
	CacheEvictions.Reset()

	RecordCacheHit(TierMemory)
	RecordCacheHit(TierFuzzy)
	RecordCacheHit(TierFuzzy)
	RecordCacheMiss("places")
	RecordCacheEviction(EvictStale)
	UpdateCacheSize("memory", 42)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"memory hits", testutil.ToFloat64(CacheHits.WithLabelValues(TierMemory)), 1},
		{"fuzzy hits", testutil.ToFloat64(CacheHits.WithLabelValues(TierFuzzy)), 2},
		{"misses", testutil.ToFloat64(CacheMisses.WithLabelValues("places")), 1},
		{"stale evictions", testutil.ToFloat64(CacheEvictions.WithLabelValues(EvictStale)), 1},
		{"size", testutil.ToFloat64(CacheSize.WithLabelValues("memory")), 42},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestPipelineMetrics(t *testing.T) {
	FetchTotal.Reset()
	EnrichmentTotal.Reset()
	RegionDecisions.Reset()
	RateLimitExceeded.Reset()
	ErrorsTotal.Reset()

	RecordFetch("remote", 300*time.Millisecond)
	RecordEnrichment("walking", true)
	RecordEnrichment("driving", false)
	RecordRegionDecision("covered")
	RecordRateLimitExceeded("places")
	RecordRateLimitWait("places", 50*time.Millisecond)
	RecordError("fetch", "remote")

	checks := map[string]float64{
		"fetch":     testutil.ToFloat64(FetchTotal.WithLabelValues("remote")),
		"walking":   testutil.ToFloat64(EnrichmentTotal.WithLabelValues("walking", "success")),
		"driving":   testutil.ToFloat64(EnrichmentTotal.WithLabelValues("driving", "error")),
		"covered":   testutil.ToFloat64(RegionDecisions.WithLabelValues("covered")),
		"ratelimit": testutil.ToFloat64(RateLimitExceeded.WithLabelValues("places")),
		"errors":    testutil.ToFloat64(ErrorsTotal.WithLabelValues("fetch", "remote")),
	}
	for name, got := range checks {
		if got != 1 {
			t.Errorf("%s = %v, want 1", name, got)
		}
	}
}
