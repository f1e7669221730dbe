package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/NERVsystems/pottypal/pkg/fetch"
	"github.com/NERVsystems/pottypal/pkg/geo"
	"github.com/NERVsystems/pottypal/pkg/places"
	"github.com/NERVsystems/pottypal/pkg/region"
	"github.com/NERVsystems/pottypal/pkg/storage"
)

type fakeSearch struct {
	mu     sync.Mutex
	result []places.Place
	calls  int
}

func (f *fakeSearch) setResult(list []places.Place) {
	f.mu.Lock()
	f.result = list
	f.mu.Unlock()
}

func (f *fakeSearch) SearchNearby(ctx context.Context, lat, lng, radius float64) ([]places.Place, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result, nil
}

// distanceRouter labels estimates with the straight-line distance.
type distanceRouter struct{}

func (distanceRouter) DistanceMatrix(ctx context.Context, origin, dest geo.Location, mode places.TravelMode) (places.TravelInfo, error) {
	miles := geo.Distance(origin, dest) / 1609.344
	return places.TravelInfo{
		Distance: fmt.Sprintf("%.2f mi", miles),
		Duration: fmt.Sprintf("%d mins", int(miles*20)+1),
	}, nil
}

var home = geo.Location{Latitude: 40, Longitude: -74}

func north(m float64) geo.Location {
	return geo.Location{Latitude: home.Latitude + m/111195, Longitude: home.Longitude}
}

func nearby() []places.Place {
	return []places.Place{
		{URI: "far-cafe", PrimaryType: "cafe", Restroom: true, Rating: 4.9, Location: north(400)},
		{URI: "near-cafe", PrimaryType: "coffee_shop", Restroom: true, Rating: 3.1, Location: north(100)},
		{URI: "diner", PrimaryType: "diner", Restroom: true, Rating: 4.0, Location: north(200)},
		{URI: "unknown", PrimaryType: "museum", Restroom: true, Location: north(50)},
		{URI: "no-restroom", PrimaryType: "cafe", Location: north(10)},
	}
}

// gatedRouter holds estimates for one destination until released, once
// armed.
type gatedRouter struct {
	gate    geo.Location
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedRouter(gate geo.Location) *gatedRouter {
	return &gatedRouter{gate: gate, entered: make(chan struct{}), release: make(chan struct{})}
}

func (r *gatedRouter) DistanceMatrix(ctx context.Context, origin, dest geo.Location, mode places.TravelMode) (places.TravelInfo, error) {
	if r.armed.Load() && dest == r.gate {
		r.once.Do(func() { close(r.entered) })
		<-r.release
	}
	return distanceRouter{}.DistanceMatrix(ctx, origin, dest, mode)
}

func newTestService(t *testing.T, search *fakeSearch, hooks region.Hooks) (*Service, storage.Store) {
	t.Helper()
	return newServiceWithRouter(t, search, distanceRouter{}, hooks)
}

func newServiceWithRouter(t *testing.T, search *fakeSearch, router fetch.Router, hooks region.Hooks) (*Service, storage.Store) {
	t.Helper()
	store := storage.NewMemoryStore()
	cfg := DefaultConfig()
	cfg.Fetch.CacheHitDelay = 0
	cfg.Region.Debounce = 10 * time.Millisecond
	s, err := New(Deps{Store: store, Search: search, Router: router, Hooks: hooks}, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	return s, store
}

func uris(list []places.Place) []string {
	out := make([]string, len(list))
	for i, p := range list {
		out[i] = p.URI
	}
	return out
}

func walkingTo(list []places.Place, uri string) string {
	for _, p := range list {
		if p.URI == uri && p.DistanceInfo != nil {
			return p.DistanceInfo.Walking.Distance
		}
	}
	return ""
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Deps{Store: storage.NewMemoryStore()}, DefaultConfig()); err == nil {
		t.Error("expected error without searcher and router")
	}
	if _, err := New(Deps{Search: &fakeSearch{}, Router: distanceRouter{}}, DefaultConfig()); err == nil {
		t.Error("expected error without a store")
	}
}

func TestTravelModePreference(t *testing.T) {
	s, store := newTestService(t, &fakeSearch{}, region.Hooks{})
	ctx := context.Background()

	if got := s.TravelMode(ctx); got != places.Walking {
		t.Errorf("default mode = %s, want walking", got)
	}
	if err := s.SetTravelMode(ctx, places.Driving); err != nil {
		t.Fatalf("SetTravelMode: %v", err)
	}
	if got := s.TravelMode(ctx); got != places.Driving {
		t.Errorf("mode = %s, want driving", got)
	}
	if v, _, _ := store.Get(ctx, TravelModeKey); v != "driving" {
		t.Errorf("stored value = %q", v)
	}
	if err := s.SetTravelMode(ctx, "cycling"); err == nil {
		t.Error("expected error for unknown mode")
	}

	_ = store.Set(ctx, TravelModeKey, "teleport")
	if got := s.TravelMode(ctx); got != places.Walking {
		t.Errorf("garbage preference = %s, want walking", got)
	}
}

func TestSearchFiltersAndSorts(t *testing.T) {
	search := &fakeSearch{result: nearby()}
	s, _ := newTestService(t, search, region.Hooks{})
	ctx := context.Background()

	got := s.Search(ctx, SearchRequest{Center: home, Radius: 500})
	want := []string{"near-cafe", "diner", "far-cafe"}
	if fmt.Sprint(uris(got)) != fmt.Sprint(want) {
		t.Errorf("distance order = %v, want %v", uris(got), want)
	}
	if pos, ok := s.Position(); !ok || pos != home {
		t.Errorf("position = %v, %v; search center should seed it", pos, ok)
	}

	cafes := places.Only(places.CategoryCafe)
	got = s.Search(ctx, SearchRequest{Center: home, Radius: 500, Filters: &cafes, Order: places.SortPopularity})
	want = []string{"far-cafe", "near-cafe"}
	if fmt.Sprint(uris(got)) != fmt.Sprint(want) {
		t.Errorf("popular cafes = %v, want %v", uris(got), want)
	}
	if search.calls != 1 {
		t.Errorf("remote searches = %d, second search should hit the cache", search.calls)
	}
}

func TestRegionFlowAndReenrichment(t *testing.T) {
	var (
		mu      sync.Mutex
		updates int
	)
	settled := make(chan struct{}, 4)
	hooks := region.Hooks{
		OnPlaces: func([]places.Place) {
			mu.Lock()
			updates++
			mu.Unlock()
		},
		OnSettled: func() { settled <- struct{}{} },
	}
	s, _ := newTestService(t, &fakeSearch{result: nearby()}, hooks)
	ctx := context.Background()

	s.UpdatePosition(ctx, home)
	s.OnRegionSettled(geo.Region{Latitude: 40, Longitude: -74, LatitudeDelta: 0.01, LongitudeDelta: 0.01})
	select {
	case <-settled:
	case <-time.After(2 * time.Second):
		t.Fatal("region attempt never settled")
	}

	visible := s.Visible(ctx)
	if len(visible) != 3 {
		t.Fatalf("visible = %v", uris(visible))
	}
	before := walkingTo(visible, "near-cafe")

	if s.UpdatePosition(ctx, north(50)) {
		t.Error("a 50 m move should not re-enrich")
	}
	if !s.UpdatePosition(ctx, north(300)) {
		t.Fatal("a 300 m move should re-enrich")
	}
	if after := walkingTo(s.Visible(ctx), "near-cafe"); after == before {
		t.Errorf("estimates unchanged after moving: %s", before)
	}

	mu.Lock()
	defer mu.Unlock()
	if updates != 2 {
		t.Errorf("place updates = %d, want 2", updates)
	}
}

func TestRefreshRestoresFilters(t *testing.T) {
	s, _ := newTestService(t, &fakeSearch{result: nearby()}, region.Hooks{})
	ctx := context.Background()
	s.UpdatePosition(ctx, home)

	s.ToggleCategory(places.CategoryCafe)
	s.SetOpenNowOnly(true)
	if f := s.Filters(); !f.Enabled[places.CategoryCafe] || f.Enabled[places.CategoryRestaurant] {
		t.Fatalf("filters after toggle = %+v", f.Enabled)
	}

	got := s.Refresh(ctx, geo.Region{Latitude: 40, Longitude: -74, LatitudeDelta: 0.01, LongitudeDelta: 0.01})
	if len(got) != 4 {
		t.Errorf("refresh returned %v", uris(got))
	}
	f := s.Filters()
	for _, c := range places.Categories {
		if !f.Enabled[c] {
			t.Errorf("category %s still disabled after refresh", c)
		}
	}
	if !f.OpenNowOnly {
		t.Error("refresh should keep the open-now switch")
	}
}

func TestReenrichmentKeepsConcurrentMerge(t *testing.T) {
	first := places.Place{URI: "a", PrimaryType: "cafe", Restroom: true, Location: north(100)}
	router := newGatedRouter(first.Location)
	search := &fakeSearch{result: []places.Place{first}}
	settled := make(chan struct{}, 4)
	s, _ := newServiceWithRouter(t, search, router, region.Hooks{
		OnSettled: func() { settled <- struct{}{} },
	})
	ctx := context.Background()

	waitSettled := func() {
		t.Helper()
		select {
		case <-settled:
		case <-time.After(2 * time.Second):
			t.Fatal("region attempt never settled")
		}
	}

	s.UpdatePosition(ctx, home)
	s.OnRegionSettled(geo.Region{Latitude: 40, Longitude: -74, LatitudeDelta: 0.01, LongitudeDelta: 0.01})
	waitSettled()

	router.armed.Store(true)
	done := make(chan bool, 1)
	go func() { done <- s.UpdatePosition(ctx, north(300)) }()
	select {
	case <-router.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("re-enrichment never started")
	}

	// A second viewport merges a new place while re-enrichment is blocked.
	far := geo.Location{Latitude: 40.05, Longitude: -74}
	search.setResult([]places.Place{{URI: "b", PrimaryType: "diner", Restroom: true, Location: far}})
	s.OnRegionSettled(geo.Region{Latitude: far.Latitude, Longitude: far.Longitude, LatitudeDelta: 0.01, LongitudeDelta: 0.01})
	waitSettled()
	if got := uris(s.Controller().Places()); fmt.Sprint(got) != "[a b]" {
		t.Fatalf("after region merge = %v", got)
	}

	close(router.release)
	if !<-done {
		t.Fatal("a 300 m move should re-enrich")
	}

	list := s.Controller().Places()
	if got := uris(list); fmt.Sprint(got) != "[a b]" {
		t.Errorf("after re-enrichment = %v, want [a b]", got)
	}
	if got := walkingTo(list, "a"); got != "0.12 mi" {
		t.Errorf("walking to a = %q, want the estimate from the new position", got)
	}
	if walkingTo(list, "b") == "" {
		t.Error("merged place lost its estimate")
	}
}
