// Package cache stores nearby-place results keyed by search circle. A small
// in-process LRU sits in front of a persistent storage.Store, and lookups
// that miss the exact key fall back to a fuzzy scan over nearby circles of
// comparable size.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/trace"

	"github.com/NERVsystems/pottypal/pkg/geo"
	"github.com/NERVsystems/pottypal/pkg/monitoring"
	"github.com/NERVsystems/pottypal/pkg/places"
	"github.com/NERVsystems/pottypal/pkg/storage"
	"github.com/NERVsystems/pottypal/pkg/tracing"
)

// KeyPrefix marks place cache entries in a shared store.
const KeyPrefix = "cache_"

// Defaults for Config.
const (
	DefaultTTL             = 21 * 24 * time.Hour
	DefaultMemoryEntries   = 256
	DefaultFuzzyDistance   = 100.0
	DefaultCoverageFloor   = 0.85
	DefaultRadiusTolerance = 0.15
	DefaultRadiusRatio     = 0.85
)

// Entry is the persisted form of one cached search.
type Entry struct {
	Places []places.Place `json:"places"`
	// Timestamp is the write time in milliseconds since the epoch.
	Timestamp int64 `json:"timestamp"`
}

// Validator reports whether cached places are still trustworthy.
type Validator interface {
	Valid(list []places.Place) bool
}

// Config tunes the cache.
type Config struct {
	TTL           time.Duration
	MemoryEntries int
	// FuzzyDistance is the furthest, in meters, a neighbouring entry's
	// center may be from the requested center.
	FuzzyDistance float64
	// CoverageFloor is the minimum stored/requested radius ratio.
	CoverageFloor float64
	// RadiusTolerance is the allowed |stored-requested| as a fraction of
	// the requested radius.
	RadiusTolerance float64
	// RadiusRatio is the alternative min/max radius ratio that also
	// counts as compatible.
	RadiusRatio float64
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		TTL:             DefaultTTL,
		MemoryEntries:   DefaultMemoryEntries,
		FuzzyDistance:   DefaultFuzzyDistance,
		CoverageFloor:   DefaultCoverageFloor,
		RadiusTolerance: DefaultRadiusTolerance,
		RadiusRatio:     DefaultRadiusRatio,
	}
}

// PlaceCache is safe for concurrent use.
type PlaceCache struct {
	cfg        Config
	memory     *lru.Cache[string, Entry]
	persistent storage.Store
	validator  Validator
	now        func() time.Time
	logger     *slog.Logger
}

// New builds a cache over persistent. A nil validator accepts everything.
func New(persistent storage.Store, validator Validator, cfg Config) (*PlaceCache, error) {
	if persistent == nil {
		return nil, fmt.Errorf("place cache requires a store")
	}
	if cfg.MemoryEntries <= 0 {
		cfg.MemoryEntries = DefaultMemoryEntries
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	memory, err := lru.New[string, Entry](cfg.MemoryEntries)
	if err != nil {
		return nil, fmt.Errorf("creating memory tier: %w", err)
	}
	return &PlaceCache{
		cfg:        cfg,
		memory:     memory,
		persistent: persistent,
		validator:  validator,
		now:        time.Now,
		logger:     slog.Default().With("component", "place_cache"),
	}, nil
}

// SetClock replaces the time source. Intended for tests.
func (c *PlaceCache) SetClock(now func() time.Time) {
	c.now = now
}

// SetLogger replaces the logger.
func (c *PlaceCache) SetLogger(logger *slog.Logger) {
	c.logger = logger
}

// Key derives the cache key for a search circle. Coordinates are rounded
// to five decimals and the radius to the nearest meter.
func Key(lat, lng, radius float64) string {
	return fmt.Sprintf("%s%.5f,%.5f,%d", KeyPrefix, roundCoord(lat), roundCoord(lng), int64(math.Round(radius)))
}

// roundCoord rounds to five decimals. Adding zero turns -0 into 0 so
// jitter around the equator or the prime meridian maps to one key.
func roundCoord(v float64) float64 {
	return math.Round(v*1e5)/1e5 + 0
}

// ParseKey recovers the circle encoded by Key.
func ParseKey(key string) (lat, lng, radius float64, ok bool) {
	rest, found := strings.CutPrefix(key, KeyPrefix)
	if !found {
		return 0, 0, 0, false
	}
	parts := strings.Split(rest, ",")
	if len(parts) != 3 {
		return 0, 0, 0, false
	}
	var err error
	if lat, err = strconv.ParseFloat(parts[0], 64); err != nil {
		return 0, 0, 0, false
	}
	if lng, err = strconv.ParseFloat(parts[1], 64); err != nil {
		return 0, 0, 0, false
	}
	if radius, err = strconv.ParseFloat(parts[2], 64); err != nil {
		return 0, 0, 0, false
	}
	return lat, lng, radius, true
}

// Lookup returns cached places for the circle, trying the exact key first
// and then any compatible neighbouring entry in write order. The first
// usable entry wins. Unusable entries met along the way are evicted.
func (c *PlaceCache) Lookup(ctx context.Context, lat, lng, radius float64) ([]places.Place, bool) {
	key := Key(lat, lng, radius)
	ctx, span := tracing.StartSpan(ctx, "cache.lookup",
		trace.WithAttributes(tracing.RegionAttributes(lat, lng, radius)...))
	defer span.End()

	if entry, tier, ok := c.load(ctx, key); ok {
		reason, usable := c.usable(entry)
		if usable {
			return c.hit(span, tier, key, entry)
		}
		c.evict(ctx, key, reason)
	}

	keys, err := c.persistent.Keys(ctx)
	if err != nil {
		c.logger.Warn("listing cache keys", "error", err)
		tracing.RecordError(ctx, err)
		return c.miss(span, key)
	}

	for _, candidate := range keys {
		if candidate == key {
			continue
		}
		cLat, cLng, cRadius, ok := ParseKey(candidate)
		if !ok {
			continue
		}
		if geo.HaversineDistance(lat, lng, cLat, cLng) > c.cfg.FuzzyDistance {
			continue
		}
		if !c.radiusCompatible(cRadius, radius) {
			continue
		}
		entry, _, ok := c.load(ctx, candidate)
		if !ok {
			continue
		}
		reason, usable := c.usable(entry)
		if !usable {
			// An empty neighbour is still a valid answer for its own circle.
			if reason != monitoring.EvictEmpty {
				c.evict(ctx, candidate, reason)
			}
			continue
		}
		c.logger.Debug("fuzzy cache hit", "requested", key, "matched", candidate)
		return c.hit(span, monitoring.TierFuzzy, candidate, entry)
	}

	return c.miss(span, key)
}

// radiusCompatible reports whether a stored radius covers enough of the
// requested one and is close to it in size.
func (c *PlaceCache) radiusCompatible(stored, requested float64) bool {
	if requested <= 0 {
		return stored == requested
	}
	if stored < c.cfg.CoverageFloor*requested {
		return false
	}
	if math.Abs(stored-requested) <= c.cfg.RadiusTolerance*requested {
		return true
	}
	return math.Min(stored, requested)/math.Max(stored, requested) >= c.cfg.RadiusRatio
}

// usable applies the age, emptiness and staleness checks in that order.
func (c *PlaceCache) usable(e Entry) (string, bool) {
	if c.now().UnixMilli()-e.Timestamp >= c.cfg.TTL.Milliseconds() {
		return monitoring.EvictExpired, false
	}
	if len(e.Places) == 0 {
		return monitoring.EvictEmpty, false
	}
	if c.validator != nil && !c.validator.Valid(e.Places) {
		return monitoring.EvictStale, false
	}
	return "", true
}

// load reads key from memory, then from the persistent tier. A persistent
// value that fails to decode is evicted.
func (c *PlaceCache) load(ctx context.Context, key string) (Entry, string, bool) {
	if e, ok := c.memory.Get(key); ok {
		return e, monitoring.TierMemory, true
	}
	raw, found, err := c.persistent.Get(ctx, key)
	if err != nil {
		c.logger.Warn("reading cache entry", "key", key, "error", err)
		return Entry{}, "", false
	}
	if !found {
		return Entry{}, "", false
	}
	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		c.logger.Warn("corrupt cache entry", "key", key, "error", err)
		c.evict(ctx, key, monitoring.EvictCorrupt)
		return Entry{}, "", false
	}
	c.memory.Add(key, e)
	return e, monitoring.TierPersistent, true
}

func (c *PlaceCache) hit(span trace.Span, tier, key string, e Entry) ([]places.Place, bool) {
	monitoring.RecordCacheHit(tier)
	span.SetAttributes(tracing.CacheAttributes(tier, true, key)...)
	return slices.Clone(e.Places), true
}

func (c *PlaceCache) miss(span trace.Span, key string) ([]places.Place, bool) {
	monitoring.RecordCacheMiss("places")
	span.SetAttributes(tracing.CacheAttributes("", false, key)...)
	return nil, false
}

// Store writes places under the circle's key in both tiers, including an
// empty result.
func (c *PlaceCache) Store(ctx context.Context, lat, lng, radius float64, list []places.Place) error {
	key := Key(lat, lng, radius)
	e := Entry{Places: slices.Clone(list), Timestamp: c.now().UnixMilli()}
	if e.Places == nil {
		e.Places = []places.Place{}
	}
	c.memory.Add(key, e)
	monitoring.UpdateCacheSize(monitoring.TierMemory, c.memory.Len())

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	if err := c.persistent.Set(ctx, key, string(data)); err != nil {
		c.logger.Warn("persisting cache entry", "key", key, "error", err)
		return fmt.Errorf("persisting cache entry: %w", err)
	}
	return nil
}

// Evict removes the circle's entry from both tiers.
func (c *PlaceCache) Evict(ctx context.Context, lat, lng, radius float64) error {
	return c.remove(ctx, Key(lat, lng, radius))
}

func (c *PlaceCache) evict(ctx context.Context, key, reason string) {
	c.logger.Debug("evicting cache entry", "key", key, "reason", reason)
	monitoring.RecordCacheEviction(reason)
	if err := c.remove(ctx, key); err != nil {
		c.logger.Warn("evicting cache entry", "key", key, "error", err)
	}
}

func (c *PlaceCache) remove(ctx context.Context, key string) error {
	c.memory.Remove(key)
	monitoring.UpdateCacheSize(monitoring.TierMemory, c.memory.Len())
	return c.persistent.Remove(ctx, key)
}

// Len reports the number of entries held in the memory tier.
func (c *PlaceCache) Len() int {
	return c.memory.Len()
}

// Purge drops the memory tier. Persistent entries are left in place.
func (c *PlaceCache) Purge() {
	c.memory.Purge()
	monitoring.UpdateCacheSize(monitoring.TierMemory, 0)
}
