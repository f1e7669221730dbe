// Package fetch turns a search circle into a list of restroom-bearing
// places: cache first, then a remote nearby search filtered to places
// with a restroom, enriched with travel estimates and written back to the
// cache. Fetch never fails; every error path yields an empty list.
package fetch

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/NERVsystems/pottypal/pkg/cache"
	"github.com/NERVsystems/pottypal/pkg/monitoring"
	"github.com/NERVsystems/pottypal/pkg/places"
	"github.com/NERVsystems/pottypal/pkg/tracing"
)

// Fetch outcomes used for metrics.
const (
	OutcomeCache     = "cache"
	OutcomeRemote    = "remote"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
)

// Searcher runs the remote nearby search.
type Searcher interface {
	SearchNearby(ctx context.Context, lat, lng, radius float64) ([]places.Place, error)
}

// Cache is the subset of cache.PlaceCache the fetcher needs.
type Cache interface {
	Lookup(ctx context.Context, lat, lng, radius float64) ([]places.Place, bool)
	Store(ctx context.Context, lat, lng, radius float64, list []places.Place) error
}

// Config holds the fetcher's timing.
type Config struct {
	// ShowDelay is how long an operation must run before the loading
	// indicator is shown.
	ShowDelay time.Duration
	// CacheHitDelay keeps the indicator up briefly on cache hits. Zero
	// returns cache hits immediately.
	CacheHitDelay time.Duration
	// MaxLoading force-clears the indicator.
	MaxLoading time.Duration
	// RemoteTimeout bounds detached remote work.
	RemoteTimeout time.Duration
}

// DefaultConfig returns the interactive timing.
func DefaultConfig() Config {
	return Config{
		ShowDelay:     100 * time.Millisecond,
		CacheHitDelay: 300 * time.Millisecond,
		MaxLoading:    2 * time.Second,
		RemoteTimeout: 20 * time.Second,
	}
}

// Fetcher is safe for concurrent use.
type Fetcher struct {
	cfg      Config
	cache    Cache
	search   Searcher
	enricher *Enricher
	loading  LoadingIndicator
	group    singleflight.Group
	logger   *slog.Logger
}

// New creates a fetcher. loading may be nil.
func New(cfg Config, c Cache, search Searcher, enricher *Enricher, loading LoadingIndicator) *Fetcher {
	if loading == nil {
		loading = LoadingFunc(func(bool) {})
	}
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = DefaultConfig().RemoteTimeout
	}
	return &Fetcher{
		cfg:      cfg,
		cache:    c,
		search:   search,
		enricher: enricher,
		loading:  loading,
		logger:   slog.Default().With("component", "fetcher"),
	}
}

// SetLogger sets the logger for the fetcher.
func (f *Fetcher) SetLogger(logger *slog.Logger) {
	f.logger = logger
}

// Enricher returns the enricher used for fresh results.
func (f *Fetcher) Enricher() *Enricher {
	return f.enricher
}

// Fetch returns restroom-bearing places inside the circle. It never fails:
// errors and cancellation yield an empty list. Cancelling ctx makes Fetch
// return at once, but remote work already started keeps running and still
// fills the cache.
func (f *Fetcher) Fetch(ctx context.Context, lat, lng, radius float64) []places.Place {
	list, err := f.Load(ctx, lat, lng, radius)
	if err != nil {
		return []places.Place{}
	}
	return list
}

// Load is Fetch with the failure reported. The error is the remote error,
// or ctx.Err() when the caller gave up first.
func (f *Fetcher) Load(ctx context.Context, lat, lng, radius float64) ([]places.Place, error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "fetch",
		trace.WithAttributes(tracing.RegionAttributes(lat, lng, radius)...),
	)
	defer span.End()

	ls := newLoadingSession(f.loading, f.cfg.ShowDelay, f.cfg.MaxLoading)
	defer ls.finish()

	if list, ok := f.cache.Lookup(ctx, lat, lng, radius); ok {
		ls.cancelShow()
		if f.cfg.CacheHitDelay > 0 {
			ls.show()
			t := time.NewTimer(f.cfg.CacheHitDelay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
			}
		}
		f.done(span, OutcomeCache, start, len(list))
		return list, nil
	}

	key := cache.Key(lat, lng, radius)
	ch := f.group.DoChan(key, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.cfg.RemoteTimeout)
		defer cancel()
		return f.remote(rctx, lat, lng, radius)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			f.logger.Warn("fetching places", "key", key, "error", res.Err)
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, "fetch failed")
			monitoring.RecordError("fetch", "remote")
			f.done(span, OutcomeError, start, 0)
			return nil, res.Err
		}
		list := slices.Clone(res.Val.([]places.Place))
		f.done(span, OutcomeRemote, start, len(list))
		return list, nil
	case <-ctx.Done():
		f.logger.Debug("fetch abandoned", "key", key, "error", ctx.Err())
		f.done(span, OutcomeCancelled, start, 0)
		return nil, ctx.Err()
	}
}

func (f *Fetcher) done(span trace.Span, outcome string, start time.Time, n int) {
	span.SetAttributes(
		attribute.String("pottypal.fetch.outcome", outcome),
		attribute.Int(tracing.AttrPlaceCount, n),
	)
	monitoring.RecordFetch(outcome, time.Since(start))
}

// remote searches, filters, enriches and caches. It runs detached from the
// caller.
func (f *Fetcher) remote(ctx context.Context, lat, lng, radius float64) ([]places.Place, error) {
	found, err := f.search.SearchNearby(ctx, lat, lng, radius)
	if err != nil {
		return nil, err
	}

	kept := make([]places.Place, 0, len(found))
	for _, p := range found {
		if p.HasRestroom() {
			kept = append(kept, p)
		}
	}
	f.logger.Debug("nearby search filtered", "found", len(found), "kept", len(kept))

	if f.enricher != nil {
		kept = f.enricher.EnrichAll(ctx, kept)
	}

	if err := f.cache.Store(ctx, lat, lng, radius, kept); err != nil {
		f.logger.Warn("caching places", "error", err)
	}
	return kept, nil
}
