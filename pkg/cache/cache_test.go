package cache

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/NERVsystems/pottypal/pkg/monitoring"
	"github.com/NERVsystems/pottypal/pkg/places"
	"github.com/NERVsystems/pottypal/pkg/storage"
)

// validatorFunc adapts a function to Validator.
type validatorFunc func([]places.Place) bool

func (f validatorFunc) Valid(list []places.Place) bool { return f(list) }

func restroom(uri string) places.Place {
	return places.Place{
		DisplayName: &places.DisplayName{Text: uri},
		URI:         uri,
		Restroom:    true,
	}
}

func newTestCache(t *testing.T, store storage.Store, v Validator) (*PlaceCache, *time.Time) {
	t.Helper()
	c, err := New(store, v, DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return now })
	return c, &now
}

func TestKey(t *testing.T) {
	tests := []struct {
		lat, lng, radius float64
		want             string
	}{
		{40.7128, -74.006, 500, "cache_40.71280,-74.00600,500"},
		{40.712804, -74.0060049, 499.6, "cache_40.71280,-74.00600,500"},
		{1.5, 2.25, 100.4, "cache_1.50000,2.25000,100"},
		{-4e-8, -3e-7, 500, "cache_0.00000,0.00000,500"},
		{6e-8, 2e-7, 500, "cache_0.00000,0.00000,500"},
	}
	for _, tt := range tests {
		if got := Key(tt.lat, tt.lng, tt.radius); got != tt.want {
			t.Errorf("Key(%v, %v, %v) = %q, want %q", tt.lat, tt.lng, tt.radius, got, tt.want)
		}
	}
}

func TestParseKey(t *testing.T) {
	lat, lng, radius, ok := ParseKey("cache_40.71280,-74.00600,500")
	if !ok || lat != 40.7128 || lng != -74.006 || radius != 500 {
		t.Errorf("ParseKey = %v %v %v %v", lat, lng, radius, ok)
	}
	for _, bad := range []string{"travelMode", "cache_1,2", "cache_a,b,c", "other_1,2,3"} {
		if _, _, _, ok := ParseKey(bad); ok {
			t.Errorf("ParseKey(%q) should fail", bad)
		}
	}
}

func TestStoreAndLookupExact(t *testing.T) {
	store := storage.NewMemoryStore()
	c, _ := newTestCache(t, store, nil)
	ctx := context.Background()

	want := []places.Place{restroom("a"), restroom("b")}
	if err := c.Store(ctx, 40, -74, 500, want); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, ok := c.Lookup(ctx, 40, -74, 500)
	if !ok || len(got) != 2 || got[0].URI != "a" {
		t.Fatalf("Lookup = %v, %v", got, ok)
	}

	// A fresh cache over the same store finds the entry in the persistent tier.
	fresh, _ := newTestCache(t, store, nil)
	monitoring.CacheHits.Reset()
	if _, ok := fresh.Lookup(ctx, 40, -74, 500); !ok {
		t.Fatal("expected persistent tier hit")
	}
	if v := testutil.ToFloat64(monitoring.CacheHits.WithLabelValues(monitoring.TierPersistent)); v != 1 {
		t.Errorf("persistent hits = %v, want 1", v)
	}
	if fresh.Len() != 1 {
		t.Errorf("memory tier not populated after persistent hit")
	}
}

func TestStoreOverwritesAndKeepsEmpty(t *testing.T) {
	store := storage.NewMemoryStore()
	c, _ := newTestCache(t, store, nil)
	ctx := context.Background()

	if err := c.Store(ctx, 40, -74, 500, nil); err != nil {
		t.Fatalf("Store(nil): %v", err)
	}
	raw, found, _ := store.Get(ctx, Key(40, -74, 500))
	if !found || raw == "" {
		t.Fatal("empty result was not persisted")
	}
	if _, ok := c.Lookup(ctx, 40, -74, 500); ok {
		t.Fatal("empty entry must not be a hit")
	}
	if _, found, _ := store.Get(ctx, Key(40, -74, 500)); found {
		t.Error("empty exact entry should be evicted on lookup")
	}

	c.Store(ctx, 40, -74, 500, []places.Place{restroom("a")})
	c.Store(ctx, 40, -74, 500, []places.Place{restroom("b")})
	got, ok := c.Lookup(ctx, 40, -74, 500)
	if !ok || got[0].URI != "b" {
		t.Errorf("expected overwritten entry, got %v", got)
	}
}

func TestLookupTTLBoundary(t *testing.T) {
	c, now := newTestCache(t, storage.NewMemoryStore(), nil)
	ctx := context.Background()
	start := *now
	c.Store(ctx, 40, -74, 500, []places.Place{restroom("a")})

	*now = start.Add(DefaultTTL - time.Second)
	if _, ok := c.Lookup(ctx, 40, -74, 500); !ok {
		t.Fatal("entry younger than TTL should hit")
	}

	*now = start.Add(DefaultTTL + time.Second)
	monitoring.CacheEvictions.Reset()
	if _, ok := c.Lookup(ctx, 40, -74, 500); ok {
		t.Fatal("entry older than TTL should miss")
	}
	if v := testutil.ToFloat64(monitoring.CacheEvictions.WithLabelValues(monitoring.EvictExpired)); v != 1 {
		t.Errorf("expired evictions = %v, want 1", v)
	}
	if c.Len() != 0 {
		t.Error("expired entry still in memory tier")
	}
}

func TestFuzzyCoverageFloor(t *testing.T) {
	ctx := context.Background()
	// 0.00072 degrees of latitude is roughly 80 meters.
	const offset = 0.00072

	tests := []struct {
		name       string
		storedR    float64
		requestedR float64
		latOffset  float64
		wantHit    bool
	}{
		{"850 covers 1000 at 80m", 850, 1000, offset, true},
		{"700 does not cover 1000", 700, 1000, offset, false},
		{"larger stored radius within ratio", 1100, 1000, offset, true},
		{"much larger stored radius", 1500, 1000, offset, false},
		{"too far away", 1000, 1000, 0.0015, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestCache(t, storage.NewMemoryStore(), nil)
			c.Store(ctx, 40, -74, tt.storedR, []places.Place{restroom("a")})
			c.Purge()

			_, ok := c.Lookup(ctx, 40+tt.latOffset, -74, tt.requestedR)
			if ok != tt.wantHit {
				t.Errorf("Lookup hit = %v, want %v", ok, tt.wantHit)
			}
		})
	}
}

func TestFuzzyFirstMatchWins(t *testing.T) {
	c, _ := newTestCache(t, storage.NewMemoryStore(), nil)
	ctx := context.Background()

	c.Store(ctx, 40.0001, -74, 1000, []places.Place{restroom("first")})
	c.Store(ctx, 40.0002, -74, 1000, []places.Place{restroom("second")})

	got, ok := c.Lookup(ctx, 40, -74, 1000)
	if !ok || got[0].URI != "first" {
		t.Errorf("Lookup = %v, want first written entry", got)
	}
}

func TestFuzzySkipsStaleAndContinues(t *testing.T) {
	store := storage.NewMemoryStore()
	stale := validatorFunc(func(list []places.Place) bool {
		return list[0].URI != "stale"
	})
	c, _ := newTestCache(t, store, stale)
	ctx := context.Background()

	c.Store(ctx, 40.0001, -74, 1000, []places.Place{restroom("stale")})
	c.Store(ctx, 40.0002, -74, 1000, []places.Place{restroom("fresh")})

	monitoring.CacheEvictions.Reset()
	got, ok := c.Lookup(ctx, 40, -74, 1000)
	if !ok || got[0].URI != "fresh" {
		t.Fatalf("Lookup = %v, %v, want fresh", got, ok)
	}
	if _, found, _ := store.Get(ctx, Key(40.0001, -74, 1000)); found {
		t.Error("stale entry should have been evicted")
	}
	if v := testutil.ToFloat64(monitoring.CacheEvictions.WithLabelValues(monitoring.EvictStale)); v != 1 {
		t.Errorf("stale evictions = %v, want 1", v)
	}
}

func TestStaleExactEntryFallsBackToFuzzy(t *testing.T) {
	store := storage.NewMemoryStore()
	c, _ := newTestCache(t, store, validatorFunc(func(list []places.Place) bool {
		return list[0].URI != "stale"
	}))
	ctx := context.Background()

	c.Store(ctx, 40.0001, -74, 1000, []places.Place{restroom("neighbour")})
	c.Store(ctx, 40, -74, 1000, []places.Place{restroom("stale")})

	got, ok := c.Lookup(ctx, 40, -74, 1000)
	if !ok || got[0].URI != "neighbour" {
		t.Fatalf("Lookup = %v, %v, want neighbour", got, ok)
	}
	if _, found, _ := store.Get(ctx, Key(40, -74, 1000)); found {
		t.Error("stale exact entry should have been evicted")
	}
}

func TestCorruptEntryIsMiss(t *testing.T) {
	store := storage.NewMemoryStore()
	c, _ := newTestCache(t, store, nil)
	ctx := context.Background()

	key := Key(40, -74, 500)
	store.Set(ctx, key, "{not json")

	if _, ok := c.Lookup(ctx, 40, -74, 500); ok {
		t.Fatal("corrupt entry must be a miss")
	}
	if _, found, _ := store.Get(ctx, key); found {
		t.Error("corrupt entry should be evicted")
	}
}

func TestLookupIgnoresForeignKeys(t *testing.T) {
	store := storage.NewMemoryStore()
	c, _ := newTestCache(t, store, nil)
	ctx := context.Background()

	store.Set(ctx, "travelMode", "driving")
	if _, ok := c.Lookup(ctx, 40, -74, 500); ok {
		t.Fatal("unexpected hit")
	}
	if v, found, _ := store.Get(ctx, "travelMode"); !found || v != "driving" {
		t.Error("foreign key was disturbed by the scan")
	}
}

func TestEvictIsIdempotent(t *testing.T) {
	c, _ := newTestCache(t, storage.NewMemoryStore(), nil)
	ctx := context.Background()

	if err := c.Evict(ctx, 1, 2, 3); err != nil {
		t.Fatalf("Evict(absent): %v", err)
	}
	c.Store(ctx, 1, 2, 3, []places.Place{restroom("a")})
	if err := c.Evict(ctx, 1, 2, 3); err != nil {
		t.Fatalf("Evict: %v", err)
	}
	if _, ok := c.Lookup(ctx, 1, 2, 3); ok {
		t.Error("evicted entry still returned")
	}
}

func TestLookupReturnsCopy(t *testing.T) {
	c, _ := newTestCache(t, storage.NewMemoryStore(), nil)
	ctx := context.Background()
	c.Store(ctx, 1, 2, 300, []places.Place{restroom("a")})

	got, _ := c.Lookup(ctx, 1, 2, 300)
	got[0].URI = "mutated"

	again, _ := c.Lookup(ctx, 1, 2, 300)
	if again[0].URI != "a" {
		t.Error("caller mutation leaked into cache")
	}
}

func TestNewRequiresStore(t *testing.T) {
	if _, err := New(nil, nil, DefaultConfig()); err == nil {
		t.Fatal("expected error without a store")
	}
}
