package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/NERVsystems/pottypal/pkg/geo"
	"github.com/NERVsystems/pottypal/pkg/monitoring"
	"github.com/NERVsystems/pottypal/pkg/places"
	"github.com/NERVsystems/pottypal/pkg/tracing"
)

// DefaultEnrichConcurrency bounds in-flight places during enrichment.
const DefaultEnrichConcurrency = 8

// DefaultReenrichDistance is how far, in meters, the user must move before
// travel estimates are recomputed.
const DefaultReenrichDistance = 160.0

// Router computes a travel estimate between two points.
type Router interface {
	DistanceMatrix(ctx context.Context, origin, destination geo.Location, mode places.TravelMode) (places.TravelInfo, error)
}

// PositionSource reports the user's live position.
type PositionSource interface {
	CurrentPosition(ctx context.Context) (geo.Location, error)
}

// PositionFunc adapts a function to PositionSource.
type PositionFunc func(ctx context.Context) (geo.Location, error)

func (f PositionFunc) CurrentPosition(ctx context.Context) (geo.Location, error) {
	return f(ctx)
}

// StaticPosition is a PositionSource that never moves.
func StaticPosition(loc geo.Location) PositionSource {
	return PositionFunc(func(context.Context) (geo.Location, error) { return loc, nil })
}

// Enricher attaches walking and driving estimates to places.
type Enricher struct {
	router      Router
	position    PositionSource
	concurrency int
	logger      *slog.Logger
}

// NewEnricher creates an enricher. concurrency <= 0 selects the default.
func NewEnricher(router Router, position PositionSource, concurrency int) *Enricher {
	if concurrency <= 0 {
		concurrency = DefaultEnrichConcurrency
	}
	return &Enricher{
		router:      router,
		position:    position,
		concurrency: concurrency,
		logger:      slog.Default().With("component", "enricher"),
	}
}

// SetLogger sets the logger for the enricher.
func (e *Enricher) SetLogger(logger *slog.Logger) {
	e.logger = logger
}

// Enrich reads the live position and computes estimates for every travel
// mode. A mode whose lookup fails is recorded as Unavailable; only a
// failure to read the position is returned as an error.
func (e *Enricher) Enrich(ctx context.Context, p places.Place) (places.DistanceInfo, error) {
	origin, err := e.position.CurrentPosition(ctx)
	if err != nil {
		return places.DistanceInfo{}, fmt.Errorf("reading position: %w", err)
	}
	return e.EnrichFrom(ctx, origin, p), nil
}

// EnrichFrom computes estimates from origin, querying the modes
// concurrently.
func (e *Enricher) EnrichFrom(ctx context.Context, origin geo.Location, p places.Place) places.DistanceInfo {
	ctx, span := tracing.StartSpan(ctx, "fetch.enrich")
	defer span.End()
	span.SetAttributes(attribute.String("pottypal.place.name", p.Name()))

	results := make([]places.TravelInfo, len(places.Modes))
	var g errgroup.Group
	for i, mode := range places.Modes {
		g.Go(func() error {
			info, err := e.router.DistanceMatrix(ctx, origin, p.Location, mode)
			monitoring.RecordEnrichment(string(mode), err == nil)
			if err != nil {
				e.logger.Debug("travel estimate unavailable",
					"place", p.Name(), "mode", mode, "error", err)
				info = places.UnavailableTravel
			}
			results[i] = info
			return nil
		})
	}
	_ = g.Wait()

	var info places.DistanceInfo
	for i, mode := range places.Modes {
		switch mode {
		case places.Walking:
			info.Walking = results[i]
		case places.Driving:
			info.Driving = results[i]
		}
	}
	return info
}

// EnrichAll returns a copy of list with estimates attached, reading the
// live position once per place. Places whose enrichment fails keep their
// existing distanceInfo, which is absent for freshly fetched places.
func (e *Enricher) EnrichAll(ctx context.Context, list []places.Place) []places.Place {
	return e.enrichAll(ctx, list, e.position)
}

func (e *Enricher) enrichAll(ctx context.Context, list []places.Place, position PositionSource) []places.Place {
	out := slices.Clone(list)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i := range out {
		if out[i].Location == (geo.Location{}) {
			continue
		}
		g.Go(func() error {
			origin, err := position.CurrentPosition(gctx)
			if err != nil {
				e.logger.Warn("skipping enrichment", "place", out[i].Name(), "error", err)
				return nil
			}
			info := e.EnrichFrom(gctx, origin, out[i])
			out[i].DistanceInfo = &info
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Reenricher recomputes estimates when the user has moved far enough
// from where they were last computed.
type Reenricher struct {
	enricher  *Enricher
	threshold float64

	mu     sync.Mutex
	anchor *geo.Location
}

// NewReenricher creates a re-enricher. threshold <= 0 selects
// DefaultReenrichDistance.
func NewReenricher(enricher *Enricher, threshold float64) *Reenricher {
	if threshold <= 0 {
		threshold = DefaultReenrichDistance
	}
	return &Reenricher{enricher: enricher, threshold: threshold}
}

// Update reports a new user position. The first position only becomes the
// anchor. Once the user is more than the threshold away from the anchor,
// the anchor moves and list is re-enriched from position; the returned
// bool is true in that case. Places whose enrichment fails keep their
// previous estimates.
func (r *Reenricher) Update(ctx context.Context, position geo.Location, list []places.Place) ([]places.Place, bool) {
	r.mu.Lock()
	if r.anchor == nil {
		r.anchor = &position
		r.mu.Unlock()
		return list, false
	}
	if geo.Distance(*r.anchor, position) <= r.threshold {
		r.mu.Unlock()
		return list, false
	}
	r.anchor = &position
	r.mu.Unlock()

	r.enricher.logger.Debug("re-enriching after movement", "places", len(list))
	return r.enricher.enrichAll(ctx, list, StaticPosition(position)), true
}

// Reset forgets the anchor.
func (r *Reenricher) Reset() {
	r.mu.Lock()
	r.anchor = nil
	r.mu.Unlock()
}
