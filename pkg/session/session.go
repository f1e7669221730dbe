// Package session wires the place pipeline for one app session: the
// cache, the fetcher, the region controller, position tracking, filters
// and the persisted travel-mode preference. All mutable state lives in a
// Service, so tests get a fresh one each.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/NERVsystems/pottypal/pkg/cache"
	"github.com/NERVsystems/pottypal/pkg/fetch"
	"github.com/NERVsystems/pottypal/pkg/geo"
	"github.com/NERVsystems/pottypal/pkg/hours"
	"github.com/NERVsystems/pottypal/pkg/places"
	"github.com/NERVsystems/pottypal/pkg/region"
	"github.com/NERVsystems/pottypal/pkg/storage"
)

// TravelModeKey is the store key holding the travel-mode preference.
const TravelModeKey = "travelMode"

// ErrNoPosition is returned while the user's position is unknown.
var ErrNoPosition = errors.New("user position unknown")

// Config bundles the tuning of every component.
type Config struct {
	Cache             cache.Config
	Fetch             fetch.Config
	Region            region.Config
	EnrichConcurrency int
	ReenrichDistance  float64
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		Cache:             cache.DefaultConfig(),
		Fetch:             fetch.DefaultConfig(),
		Region:            region.DefaultConfig(),
		EnrichConcurrency: fetch.DefaultEnrichConcurrency,
		ReenrichDistance:  fetch.DefaultReenrichDistance,
	}
}

// Deps are the collaborators a Service is built from. Loading and Hooks
// are optional.
type Deps struct {
	Store   storage.Store
	Search  fetch.Searcher
	Router  fetch.Router
	Loading fetch.LoadingIndicator
	Hooks   region.Hooks
}

// Service is safe for concurrent use.
type Service struct {
	store      storage.Store
	cache      *cache.PlaceCache
	fetcher    *fetch.Fetcher
	controller *region.Controller
	reenricher *fetch.Reenricher
	hooks      region.Hooks
	logger     *slog.Logger

	mu       sync.RWMutex
	position *geo.Location
	filters  places.Filters
	order    places.SortOrder
}

// New builds a session.
func New(deps Deps, cfg Config) (*Service, error) {
	if deps.Search == nil || deps.Router == nil {
		return nil, fmt.Errorf("session requires a searcher and a router")
	}
	pc, err := cache.New(deps.Store, hours.NewValidator(), cfg.Cache)
	if err != nil {
		return nil, err
	}

	s := &Service{
		store:   deps.Store,
		cache:   pc,
		hooks:   deps.Hooks,
		filters: places.AllFilters(),
		order:   places.SortDistance,
		logger:  slog.Default().With("component", "session"),
	}
	enricher := fetch.NewEnricher(deps.Router, fetch.PositionFunc(s.currentPosition), cfg.EnrichConcurrency)
	s.fetcher = fetch.New(cfg.Fetch, pc, deps.Search, enricher, deps.Loading)
	s.reenricher = fetch.NewReenricher(enricher, cfg.ReenrichDistance)
	s.controller = region.NewController(s.fetcher, deps.Hooks, cfg.Region)
	return s, nil
}

// SetLogger sets the logger on the session and its components.
func (s *Service) SetLogger(logger *slog.Logger) {
	s.logger = logger.With("component", "session")
	s.cache.SetLogger(logger.With("component", "place_cache"))
	s.fetcher.SetLogger(logger.With("component", "fetcher"))
	s.fetcher.Enricher().SetLogger(logger.With("component", "enricher"))
	s.controller.SetLogger(logger.With("component", "region"))
}

// Cache exposes the place cache.
func (s *Service) Cache() *cache.PlaceCache { return s.cache }

// Controller exposes the region controller.
func (s *Service) Controller() *region.Controller { return s.controller }

func (s *Service) currentPosition(context.Context) (geo.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.position == nil {
		return geo.Location{}, ErrNoPosition
	}
	return *s.position, nil
}

// Position returns the last reported user position.
func (s *Service) Position() (geo.Location, bool) {
	loc, err := s.currentPosition(context.Background())
	return loc, err == nil
}

// UpdatePosition records a position fix. Once the user has moved far
// enough, the current places are re-enriched from the new position and
// the OnPlaces hook fires. It reports whether re-enrichment ran.
func (s *Service) UpdatePosition(ctx context.Context, loc geo.Location) bool {
	s.mu.Lock()
	s.position = &loc
	s.mu.Unlock()

	enriched, ran := s.reenricher.Update(ctx, loc, s.controller.Places())
	if !ran {
		return false
	}
	// The controller may have merged or replaced places while the
	// estimates were computed; only the estimates are written back.
	list := s.controller.ApplyDistances(enriched)
	if s.hooks.OnPlaces != nil {
		s.hooks.OnPlaces(list)
	}
	return true
}

// OnRegionSettled forwards a settled viewport to the region controller.
func (s *Service) OnRegionSettled(r geo.Region) {
	s.controller.OnRegionSettled(r)
}

// Refresh switches every category filter back on and refetches r from
// scratch, superseding any region-driven fetch.
func (s *Service) Refresh(ctx context.Context, r geo.Region) []places.Place {
	s.mu.Lock()
	open := s.filters.OpenNowOnly
	s.filters = places.AllFilters()
	s.filters.OpenNowOnly = open
	s.mu.Unlock()
	return s.controller.Refresh(ctx, r)
}

// SearchRequest is a one-shot search around a point.
type SearchRequest struct {
	Center geo.Location
	Radius float64
	// Filters defaults to every category.
	Filters *places.Filters
	// Order defaults to distance.
	Order places.SortOrder
	// Mode defaults to the stored preference.
	Mode places.TravelMode
}

// Search fetches the circle, then filters and sorts. Without a known
// position the center is taken as the user's position.
func (s *Service) Search(ctx context.Context, req SearchRequest) []places.Place {
	if _, ok := s.Position(); !ok {
		s.UpdatePosition(ctx, req.Center)
	}
	f := places.AllFilters()
	if req.Filters != nil {
		f = *req.Filters
	}
	order := req.Order
	if order == "" {
		order = places.SortDistance
	}
	mode := req.Mode
	if mode == "" {
		mode = s.TravelMode(ctx)
	}

	list := s.fetcher.Fetch(ctx, req.Center.Latitude, req.Center.Longitude, req.Radius)
	return places.Sort(places.Apply(list, f), order, mode)
}

// Visible returns the merged region places after the session's filters
// and sort order.
func (s *Service) Visible(ctx context.Context) []places.Place {
	s.mu.RLock()
	f, order := s.filters, s.order
	s.mu.RUnlock()
	return places.Sort(places.Apply(s.controller.Places(), f), order, s.TravelMode(ctx))
}

// Filters returns the current filter state.
func (s *Service) Filters() places.Filters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filters
}

// ToggleCategory applies a category chip tap.
func (s *Service) ToggleCategory(c places.Category) places.Filters {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = s.filters.Toggle(c)
	return s.filters
}

// SetOpenNowOnly sets the open-now switch.
func (s *Service) SetOpenNowOnly(on bool) {
	s.mu.Lock()
	s.filters.OpenNowOnly = on
	s.mu.Unlock()
}

// SetSortOrder sets the list ordering.
func (s *Service) SetSortOrder(order places.SortOrder) {
	s.mu.Lock()
	s.order = order
	s.mu.Unlock()
}

// TravelMode returns the stored preference, walking when unset or
// unreadable.
func (s *Service) TravelMode(ctx context.Context) places.TravelMode {
	v, found, err := s.store.Get(ctx, TravelModeKey)
	if err != nil {
		s.logger.Warn("reading travel mode", "error", err)
		return places.Walking
	}
	if !found {
		return places.Walking
	}
	mode, ok := places.ParseTravelMode(v)
	if !ok {
		s.logger.Debug("ignoring unknown travel mode", "value", v)
		return places.Walking
	}
	return mode
}

// SetTravelMode persists the preference.
func (s *Service) SetTravelMode(ctx context.Context, mode places.TravelMode) error {
	if _, ok := places.ParseTravelMode(string(mode)); !ok {
		return fmt.Errorf("unknown travel mode %q", mode)
	}
	if err := s.store.Set(ctx, TravelModeKey, string(mode)); err != nil {
		return fmt.Errorf("saving travel mode: %w", err)
	}
	return nil
}

// Close stops the region controller. The store is owned by the caller.
func (s *Service) Close() {
	s.controller.Close()
}
