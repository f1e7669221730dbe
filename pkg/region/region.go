// Package region decides when a settled map viewport warrants a new place
// fetch, and merges the results into the session's place list.
package region

import (
	"context"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/NERVsystems/pottypal/pkg/geo"
	"github.com/NERVsystems/pottypal/pkg/monitoring"
	"github.com/NERVsystems/pottypal/pkg/places"
	"github.com/NERVsystems/pottypal/pkg/tracing"
)

// Decisions recorded for each attempt.
const (
	DecisionFetch      = "fetch"
	DecisionUnchanged  = "unchanged"
	DecisionCovered    = "covered"
	DecisionSuperseded = "superseded"
	DecisionFailed     = "failed"
	DecisionRefresh    = "refresh"
)

// Defaults for Config.
const (
	DefaultDebounce       = 700 * time.Millisecond
	DefaultRadiusChange   = 0.2
	DefaultCenterMove     = 0.3
	DefaultCoverageMargin = 0.9
)

// Loader fetches places for a search circle. A non-nil error means
// nothing usable came back and the area must not be marked as checked.
type Loader interface {
	Load(ctx context.Context, lat, lng, radius float64) ([]places.Place, error)
}

// Area is a search circle.
type Area struct {
	Center geo.Location
	Radius float64
}

// Hooks report controller results to the UI. Any hook may be nil. Hooks
// are called without the controller lock held.
type Hooks struct {
	// OnPlaces receives the full place list after every change.
	OnPlaces func(list []places.Place)
	// OnNoNewResults fires when a fetch added nothing to the list.
	OnNoNewResults func()
	// OnSettled fires when an attempt is finished with, whether it
	// fetched or not. Superseded attempts never fire it.
	OnSettled func()
}

// Config tunes the controller.
type Config struct {
	Debounce time.Duration
	// RadiusChange is the fraction of the previous radius the radius must
	// change by to warrant a fetch.
	RadiusChange float64
	// CenterMove is the fraction of the previous radius the center must
	// move by to warrant a fetch.
	CenterMove float64
	// CoverageMargin scales the new radius in the coverage test.
	CoverageMargin float64
}

// DefaultConfig returns the interactive tuning.
func DefaultConfig() Config {
	return Config{
		Debounce:       DefaultDebounce,
		RadiusChange:   DefaultRadiusChange,
		CenterMove:     DefaultCenterMove,
		CoverageMargin: DefaultCoverageMargin,
	}
}

// ShouldFetchNewData reports whether a region differs enough from the last
// executed fetch. Both thresholds are relative to the previous radius.
// With no previous fetch it is always true.
func (c Config) ShouldFetchNewData(last *Area, next Area) bool {
	if last == nil {
		return true
	}
	radiusChanged := math.Abs(next.Radius-last.Radius) > last.Radius*c.RadiusChange
	moved := geo.Distance(last.Center, next.Center) > last.Radius*c.CenterMove
	return radiusChanged || moved
}

// IsRegionCovered reports whether any checked area fully contains the
// circle, with the margin applied to the new radius.
func (c Config) IsRegionCovered(checked []Area, next Area) bool {
	for _, a := range checked {
		if a.Radius >= geo.Distance(a.Center, next.Center)+next.Radius*c.CoverageMargin {
			return true
		}
	}
	return false
}

// Controller debounces region events and serializes every fetch-triggering
// path through one latest-wins request id: a newer event or a refresh
// cancels whatever came before, and a superseded attempt never mutates
// state.
type Controller struct {
	cfg    Config
	loader Loader
	hooks  Hooks
	logger *slog.Logger

	mu        sync.Mutex
	requestID uint64
	timer     *time.Timer
	cancel    context.CancelFunc
	places    []places.Place
	checked   []Area
	last      *Area
	closed    bool
	wg        sync.WaitGroup
}

// NewController creates a controller. Zero Config fields take defaults.
func NewController(loader Loader, hooks Hooks, cfg Config) *Controller {
	def := DefaultConfig()
	if cfg.Debounce <= 0 {
		cfg.Debounce = def.Debounce
	}
	if cfg.RadiusChange <= 0 {
		cfg.RadiusChange = def.RadiusChange
	}
	if cfg.CenterMove <= 0 {
		cfg.CenterMove = def.CenterMove
	}
	if cfg.CoverageMargin <= 0 {
		cfg.CoverageMargin = def.CoverageMargin
	}
	return &Controller{
		cfg:    cfg,
		loader: loader,
		hooks:  hooks,
		logger: slog.Default().With("component", "region"),
	}
}

// SetLogger sets the logger for the controller.
func (c *Controller) SetLogger(logger *slog.Logger) {
	c.logger = logger
}

// supersede cancels the pending or running attempt and returns a fresh
// request id with its context. Callers hold c.mu.
func (c *Controller) supersede() (uint64, context.Context) {
	if c.timer != nil && c.timer.Stop() {
		c.wg.Done()
	}
	c.timer = nil
	if c.cancel != nil {
		c.cancel()
	}
	c.requestID++
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	return c.requestID, ctx
}

// OnRegionSettled schedules a fetch decision for the viewport after the
// debounce period. A later call before then replaces it.
func (c *Controller) OnRegionSettled(r geo.Region) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	id, ctx := c.supersede()
	area := Area{Center: r.Center(), Radius: geo.RegionRadius(r)}
	c.wg.Add(1)
	c.timer = time.AfterFunc(c.cfg.Debounce, func() {
		defer c.wg.Done()
		c.attempt(ctx, id, area)
	})
}

// current reports whether id is still the latest request. Callers hold c.mu.
func (c *Controller) current(id uint64, ctx context.Context) bool {
	return id == c.requestID && ctx.Err() == nil && !c.closed
}

func (c *Controller) attempt(ctx context.Context, id uint64, area Area) {
	ctx, span := tracing.StartSpan(ctx, "region.attempt",
		trace.WithAttributes(tracing.RegionAttributes(area.Center.Latitude, area.Center.Longitude, area.Radius)...),
		trace.WithAttributes(attribute.Int64(tracing.AttrRequestID, int64(id))),
	)
	defer span.End()

	c.mu.Lock()
	if !c.current(id, ctx) {
		c.mu.Unlock()
		c.decide(span, DecisionSuperseded)
		return
	}
	if !c.cfg.ShouldFetchNewData(c.last, area) {
		c.mu.Unlock()
		c.decide(span, DecisionUnchanged)
		c.settled()
		return
	}
	if c.cfg.IsRegionCovered(c.checked, area) {
		c.mu.Unlock()
		c.decide(span, DecisionCovered)
		c.settled()
		return
	}
	c.mu.Unlock()

	c.decide(span, DecisionFetch)
	list, err := c.loader.Load(ctx, area.Center.Latitude, area.Center.Longitude, area.Radius)

	c.mu.Lock()
	if !c.current(id, ctx) {
		c.mu.Unlock()
		c.decide(span, DecisionSuperseded)
		return
	}
	if err != nil {
		c.mu.Unlock()
		c.logger.Warn("region fetch failed", "request_id", id, "error", err)
		c.decide(span, DecisionFailed)
		c.settled()
		return
	}
	merged, added := places.MergeUnique(c.places, list)
	c.places = merged
	c.last = &area
	c.checked = append(c.checked, area)
	snapshot := slices.Clone(merged)
	c.mu.Unlock()

	c.logger.Debug("region fetched", "request_id", id, "fetched", len(list), "added", added)
	span.SetAttributes(attribute.Int(tracing.AttrPlaceCount, len(snapshot)))
	if c.hooks.OnPlaces != nil {
		c.hooks.OnPlaces(snapshot)
	}
	if added == 0 && c.hooks.OnNoNewResults != nil {
		c.hooks.OnNoNewResults()
	}
	c.settled()
}

// Refresh drops the checked areas and the place list, then fetches the
// region immediately and replaces the list with the result. It supersedes
// any pending or running region attempt and blocks until done.
func (c *Controller) Refresh(ctx context.Context, r geo.Region) []places.Place {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return []places.Place{}
	}
	id, rctx := c.supersede()
	c.checked = nil
	c.places = nil
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, c.cancelIf(id))
	defer stop()

	monitoring.RecordRegionDecision(DecisionRefresh)
	area := Area{Center: r.Center(), Radius: geo.RegionRadius(r)}
	list, err := c.loader.Load(rctx, area.Center.Latitude, area.Center.Longitude, area.Radius)
	if err != nil {
		c.logger.Warn("refresh failed", "error", err)
		list = []places.Place{}
	}
	for i := range list {
		list[i].EnsureKey()
	}

	c.mu.Lock()
	if !c.current(id, rctx) {
		c.mu.Unlock()
		monitoring.RecordRegionDecision(DecisionSuperseded)
		return []places.Place{}
	}
	c.places = list
	snapshot := slices.Clone(list)
	c.mu.Unlock()

	if c.hooks.OnPlaces != nil {
		c.hooks.OnPlaces(snapshot)
	}
	return snapshot
}

// cancelIf returns a func that cancels the attempt with the given id if it
// is still current.
func (c *Controller) cancelIf(id uint64) func() {
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if id == c.requestID && c.cancel != nil {
			c.cancel()
		}
	}
}

// ApplyDistances copies the estimates carried by enriched onto the places
// of the current list with the same key and returns the updated list.
// Membership is never changed: places merged or dropped since enriched was
// snapshotted stay as the controller has them.
func (c *Controller) ApplyDistances(enriched []places.Place) []places.Place {
	byKey := make(map[string]*places.DistanceInfo, len(enriched))
	for _, p := range enriched {
		if k := p.Key(); k != "" && p.DistanceInfo != nil {
			byKey[k] = p.DistanceInfo
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.places {
		if info, ok := byKey[c.places[i].Key()]; ok {
			c.places[i].DistanceInfo = info
		}
	}
	return slices.Clone(c.places)
}

// Places returns a snapshot of the merged place list.
func (c *Controller) Places() []places.Place {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.places)
}

// CheckedAreas returns a snapshot of the areas fetched so far.
func (c *Controller) CheckedAreas() []Area {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.checked)
}

// LastFetched returns the anchor of the last executed region fetch.
func (c *Controller) LastFetched() (Area, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return Area{}, false
	}
	return *c.last, true
}

// Close cancels pending work and waits for running attempts to return.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	if c.timer != nil && c.timer.Stop() {
		c.wg.Done()
	}
	c.timer = nil
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Controller) decide(span trace.Span, decision string) {
	span.SetAttributes(attribute.String("pottypal.region.decision", decision))
	monitoring.RecordRegionDecision(decision)
}

func (c *Controller) settled() {
	if c.hooks.OnSettled != nil {
		c.hooks.OnSettled()
	}
}
