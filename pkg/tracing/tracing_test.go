package tracing

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// recordSpans points Tracer at an in-memory recorder for the test.
func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := Tracer
	Tracer = tp.Tracer(TracerName)
	t.Cleanup(func() {
		Tracer = prev
		_ = tp.Shutdown(context.Background())
	})
	return sr
}

func TestConfigFromEnv(t *testing.T) {
	tests := []struct {
		name      string
		env       map[string]string
		enabled   bool
		insecure  bool
		ratio     float64
		environ   string
		samplerAt string
	}{
		{"defaults", nil, false, true, 1, "development", "AlwaysOnSampler"},
		{"collector", map[string]string{"OTLP_ENDPOINT": "otel:4317", "OTLP_INSECURE": "false", "ENVIRONMENT": "production"},
			true, false, 1, "production", "AlwaysOnSampler"},
		{"ratio", map[string]string{"OTLP_SAMPLE_RATIO": "0.25"}, false, true, 0.25, "development", "ParentBased{root:TraceIDRatioBased{0.25}"},
		{"bad ratio", map[string]string{"OTLP_SAMPLE_RATIO": "1.5"}, false, true, 1, "development", "AlwaysOnSampler"},
		{"junk ratio", map[string]string{"OTLP_SAMPLE_RATIO": "most"}, false, true, 1, "development", "AlwaysOnSampler"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"OTLP_ENDPOINT", "OTLP_INSECURE", "OTLP_SAMPLE_RATIO", "ENVIRONMENT"} {
				t.Setenv(k, tt.env[k])
			}
			cfg := ConfigFromEnv("1.2.3")
			if cfg.Enabled() != tt.enabled || cfg.Insecure != tt.insecure {
				t.Errorf("enabled/insecure = %v/%v", cfg.Enabled(), cfg.Insecure)
			}
			if cfg.SampleRatio != tt.ratio || cfg.Environment != tt.environ || cfg.Version != "1.2.3" {
				t.Errorf("config = %+v", cfg)
			}
			if got := cfg.sampler().Description(); !strings.HasPrefix(got, tt.samplerAt) {
				t.Errorf("sampler = %q, want prefix %q", got, tt.samplerAt)
			}
		})
	}
}

func TestInitWithoutEndpoint(t *testing.T) {
	prev := Tracer
	t.Cleanup(func() { Tracer = prev })

	shutdown, err := Init(context.Background(), Config{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}

	_, span := StartSpan(context.Background(), "places.fetch")
	defer span.End()
	if span.IsRecording() {
		t.Error("no-op tracer should not record")
	}
}

func TestSpanHelpers(t *testing.T) {
	sr := recordSpans(t)

	ctx, span := StartSpan(context.Background(), "google.search_nearby")
	SetAttributes(ctx, RegionAttributes(40, -74, 486.7)...)
	AddEvent(ctx, "rate_limit.wait")
	RecordError(ctx, nil)
	RecordError(ctx, errors.New("upstream returned 503"))
	span.End()

	ended := sr.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d", len(ended))
	}
	got := ended[0]
	if got.Status().Code != codes.Error || got.Status().Description != "upstream returned 503" {
		t.Errorf("status = %+v", got.Status())
	}
	var names []string
	for _, ev := range got.Events() {
		names = append(names, ev.Name)
	}
	if strings.Join(names, ",") != "rate_limit.wait,exception" {
		t.Errorf("events = %v", names)
	}
	radius := attribute.Key(AttrRegionRadius)
	found := false
	for _, kv := range got.Attributes() {
		if kv.Key == radius && kv.Value.AsFloat64() == 486.7 {
			found = true
		}
	}
	if !found {
		t.Errorf("attributes = %v, want %s", got.Attributes(), AttrRegionRadius)
	}
}

func TestHelpersWithoutSpan(t *testing.T) {
	ctx := context.Background()
	RecordError(ctx, errors.New("ignored"))
	AddEvent(ctx, "ignored")
	SetAttributes(ctx, attribute.Bool("ignored", true))
}

func TestAttributeHelpers(t *testing.T) {
	tests := []struct {
		name  string
		attrs []attribute.KeyValue
		want  int
	}{
		{"tool", MCPToolAttributes("find_restrooms", StatusSuccess, 123, 456), 4},
		{"service", ServiceAttributes(ServicePlaces, "search_nearby", "https://places.googleapis.com/v1/places:searchNearby", 200), 4},
		{"cache", CacheAttributes("fuzzy", true, "cache_40.00000,-74.00000,500"), 3},
		{"region", RegionAttributes(40, -74, 486.7), 3},
		{"no error", ErrorAttributes(nil), 0},
		{"error", ErrorAttributes(errors.New("boom")), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if len(tt.attrs) != tt.want {
				t.Errorf("got %d attributes, want %d: %v", len(tt.attrs), tt.want, tt.attrs)
			}
		})
	}
}
