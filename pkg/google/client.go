// Package google talks to the Places nearby-search and Distance Matrix
// APIs. Each service has its own rate limiter, and every call runs through
// the shared retry helper with monitoring hooks around it.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/NERVsystems/pottypal/pkg/core"
	"github.com/NERVsystems/pottypal/pkg/tracing"
)

const (
	DefaultPlacesBaseURL = "https://places.googleapis.com/v1"
	DefaultMapsBaseURL   = "https://maps.googleapis.com/maps/api"

	// maxResponseBytes bounds decoded response bodies.
	maxResponseBytes = 4 << 20
)

// Config configures a Client.
type Config struct {
	APIKey        string
	PlacesBaseURL string
	MapsBaseURL   string
	HTTPClient    *http.Client
	Retry         core.RetryOptions

	PlacesRPS   float64
	PlacesBurst int
	MatrixRPS   float64
	MatrixBurst int
}

// DefaultConfig returns production endpoints and limits for apiKey.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:        apiKey,
		PlacesBaseURL: DefaultPlacesBaseURL,
		MapsBaseURL:   DefaultMapsBaseURL,
		HTTPClient:    core.DefaultClient,
		Retry:         core.DefaultRetryOptions,
		PlacesRPS:     5,
		PlacesBurst:   5,
		MatrixRPS:     20,
		MatrixBurst:   40,
	}
}

// Client is safe for concurrent use.
type Client struct {
	cfg           Config
	placesLimiter *rate.Limiter
	matrixLimiter *rate.Limiter
	logger        *slog.Logger
}

// NewClient creates a client. Zero-valued fields fall back to the
// defaults.
func NewClient(cfg Config) *Client {
	def := DefaultConfig(cfg.APIKey)
	if cfg.PlacesBaseURL == "" {
		cfg.PlacesBaseURL = def.PlacesBaseURL
	}
	if cfg.MapsBaseURL == "" {
		cfg.MapsBaseURL = def.MapsBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = def.HTTPClient
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = def.Retry
	}
	if cfg.PlacesRPS <= 0 {
		cfg.PlacesRPS, cfg.PlacesBurst = def.PlacesRPS, def.PlacesBurst
	}
	if cfg.MatrixRPS <= 0 {
		cfg.MatrixRPS, cfg.MatrixBurst = def.MatrixRPS, def.MatrixBurst
	}
	return &Client{
		cfg:           cfg,
		placesLimiter: rate.NewLimiter(rate.Limit(cfg.PlacesRPS), max(cfg.PlacesBurst, 1)),
		matrixLimiter: rate.NewLimiter(rate.Limit(cfg.MatrixRPS), max(cfg.MatrixBurst, 1)),
		logger:        slog.Default().With("component", "google"),
	}
}

// SetLogger sets the logger for the client
func (c *Client) SetLogger(logger *slog.Logger) {
	c.logger = logger
}

// HasKey reports whether an API key is configured.
func (c *Client) HasKey() bool {
	return c.cfg.APIKey != ""
}

func (c *Client) missingKey() error {
	return core.NewError(core.ErrMissingAPIKey, "no Maps API key configured").
		WithGuidance("Set GOOGLE_MAPS_API_KEY or pass -api-key")
}

// waitForRateLimit blocks on the service's limiter, recording the wait on
// the current span and through the hooks when it was not immediate.
func (c *Client) waitForRateLimit(ctx context.Context, service string, limiter *rate.Limiter) error {
	if limiter.Allow() {
		return nil
	}
	start := time.Now()
	tracing.AddEvent(ctx, "rate_limit_wait",
		trace.WithAttributes(attribute.String(tracing.AttrRateLimitService, service)),
	)
	err := limiter.Wait(ctx)
	wait := time.Since(start)
	tracing.SetAttributes(ctx,
		attribute.String(tracing.AttrRateLimitService, service),
		attribute.Int64(tracing.AttrRateLimitWaitMs, wait.Milliseconds()),
	)
	if hooks := getMonitoringHooks(); hooks != nil && hooks.OnRateLimit != nil {
		hooks.OnRateLimit(service, wait)
	}
	if err != nil {
		return core.Wrap(core.ErrRateLimit, err, service+" rate limit wait")
	}
	return nil
}

// do runs one monitored, rate-limited, retried call and decodes a JSON
// response into out.
func (c *Client) do(ctx context.Context, service, operation string, limiter *rate.Limiter, factory core.RequestFactory, out any) error {
	hooks := getMonitoringHooks()
	if hooks != nil && hooks.OnRequest != nil {
		hooks.OnRequest(service, operation)
	}

	if err := c.waitForRateLimit(ctx, service, limiter); err != nil {
		if hooks != nil && hooks.OnError != nil {
			hooks.OnError(service, "rate_limit_wait_error")
		}
		return err
	}

	start := time.Now()
	resp, err := core.WithRetryFactory(ctx, factory, c.cfg.HTTPClient, c.cfg.Retry)
	if err == nil {
		defer resp.Body.Close()
		if decErr := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); decErr != nil {
			err = core.Wrap(core.ErrParseError, decErr, fmt.Sprintf("decoding %s response", service))
		}
	}
	duration := time.Since(start)

	if hooks != nil && hooks.OnResponse != nil {
		hooks.OnResponse(service, operation, duration, err == nil)
	}
	if err != nil {
		if hooks != nil && hooks.OnError != nil {
			hooks.OnError(service, errorType(err))
		}
		tracing.RecordError(ctx, err)
		return err
	}
	return nil
}

func errorType(err error) string {
	switch {
	case core.IsCode(err, core.ErrParseError):
		return "parse_error"
	case core.IsCode(err, core.ErrRateLimit):
		return "rate_limited"
	case core.IsCode(err, core.ErrNetworkError):
		return "network_error"
	default:
		return "request_error"
	}
}
