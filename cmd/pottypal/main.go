package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NERVsystems/pottypal/pkg/coords"
	"github.com/NERVsystems/pottypal/pkg/geo"
	"github.com/NERVsystems/pottypal/pkg/google"
	"github.com/NERVsystems/pottypal/pkg/monitoring"
	"github.com/NERVsystems/pottypal/pkg/places"
	"github.com/NERVsystems/pottypal/pkg/server"
	"github.com/NERVsystems/pottypal/pkg/session"
	"github.com/NERVsystems/pottypal/pkg/storage"
	"github.com/NERVsystems/pottypal/pkg/tools"
	"github.com/NERVsystems/pottypal/pkg/tracing"
	ver "github.com/NERVsystems/pottypal/pkg/version"
)

var (
	showVersionFlag bool
	debug           bool
	apiKey          string

	// Store flags
	storeBackend string
	storePath    string

	// Search flags
	at         string
	radius     float64
	span       float64
	category   string
	openNow    bool
	sortOrder  string
	travelMode string
	saveMode   string
	limit      int

	// Modes
	watch   bool
	mcpMode bool

	// HTTP transport flags
	enableHTTP    bool
	httpAddr      string
	httpBaseURL   string
	httpAuthType  string
	httpAuthToken string
	httpRateLimit float64
	httpRateBurst int

	// Monitoring flags
	enableMonitoring bool
	monitoringAddr   string
	probeInterval    time.Duration

	// Rate limits for each Google service
	placesRPS   float64
	placesBurst int
	matrixRPS   float64
	matrixBurst int
)

func init() {
	flag.BoolVar(&showVersionFlag, "version", false, "Display version information")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.StringVar(&apiKey, "api-key", "", "Google Maps API key (default $GOOGLE_MAPS_API_KEY)")

	flag.StringVar(&storeBackend, "store", "", "Persistent cache backend: memory, file, redis, postgres (default $POTTYPAL_STORE or memory)")
	flag.StringVar(&storePath, "store-path", "", "JSON document for the file store (default $POTTYPAL_STORE_PATH or pottypal-cache.json)")

	flag.StringVar(&at, "at", "", "Search position as decimal degrees, DMS or MGRS")
	flag.Float64Var(&radius, "radius", tools.DefaultSearchRadius, "Search radius in meters")
	flag.Float64Var(&span, "span", 0, "Viewport width in degrees of longitude; overrides -radius")
	flag.StringVar(&category, "category", "", "Only show one category")
	flag.BoolVar(&openNow, "open-now", false, "Only show places open now")
	flag.StringVar(&sortOrder, "sort", string(places.SortDistance), "Result order: distance or popularity")
	flag.StringVar(&travelMode, "mode", "", "Travel mode for ordering: walking or driving (default saved preference)")
	flag.StringVar(&saveMode, "save-mode", "", "Persist the preferred travel mode and exit")
	flag.IntVar(&limit, "limit", tools.DefaultResultLimit, "Maximum number of results")

	flag.BoolVar(&watch, "watch", false, "Read region and position events as JSON lines from stdin")
	flag.BoolVar(&mcpMode, "mcp", false, "Serve MCP tools over stdio")

	flag.BoolVar(&enableHTTP, "enable-http", false, "Serve MCP over streamable HTTP and GET /restrooms")
	flag.StringVar(&httpAddr, "http-addr", ":7082", "HTTP server address")
	flag.StringVar(&httpBaseURL, "http-base-url", "", "Base URL for service discovery (auto-detected if empty)")
	flag.StringVar(&httpAuthType, "http-auth-type", server.AuthNone, "HTTP authentication type: none, bearer, basic")
	flag.StringVar(&httpAuthToken, "http-auth-token", "", "HTTP authentication token (default $POTTYPAL_HTTP_TOKEN)")
	flag.Float64Var(&httpRateLimit, "http-rps", 10, "HTTP requests per second per client (0 disables)")
	flag.IntVar(&httpRateBurst, "http-burst", 20, "HTTP rate limit burst size")

	flag.BoolVar(&enableMonitoring, "enable-monitoring", false, "Enable Prometheus metrics and health endpoints")
	flag.StringVar(&monitoringAddr, "monitoring-addr", ":9090", "Monitoring server address")
	flag.DurationVar(&probeInterval, "probe-interval", 30*time.Second, "Dependency health probe interval")

	flag.Float64Var(&placesRPS, "places-rps", 5, "Places API rate limit in requests per second")
	flag.IntVar(&placesBurst, "places-burst", 5, "Places API rate limit burst size")
	flag.Float64Var(&matrixRPS, "matrix-rps", 20, "Distance Matrix rate limit in requests per second")
	flag.IntVar(&matrixBurst, "matrix-burst", 40, "Distance Matrix rate limit burst size")
}

func main() {
	_ = godotenv.Load(".env")
	flag.Parse()

	if showVersionFlag {
		fmt.Println(ver.String())
		return
	}

	logger := newLogger(debug)
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("pottypal failed", "error", err)
		os.Exit(1)
	}
}

// newLogger builds the process logger. -debug wins over LOG_LEVEL and
// LOG_FORMAT=json selects the JSON handler.
func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func envOr(value, key, fallback string) string {
	if value != "" {
		return value
	}
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.InitTracing(ctx, ver.BuildVersion)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
	} else {
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				logger.Error("error shutting down tracing", "error", err)
			}
		}()
		if endpoint := os.Getenv("OTLP_ENDPOINT"); endpoint != "" {
			logger.Info("OpenTelemetry tracing enabled", "endpoint", endpoint)
		}
	}

	store, err := storage.Open(ctx, storage.Options{
		Backend: envOr(storeBackend, "POTTYPAL_STORE", storage.BackendMemory),
		Path:    envOr(storePath, "POTTYPAL_STORE_PATH", "pottypal-cache.json"),
		Prefix:  os.Getenv("REDIS_PREFIX"),
	})
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	client := google.NewClient(google.Config{
		APIKey:      envOr(apiKey, "GOOGLE_MAPS_API_KEY", ""),
		PlacesRPS:   placesRPS,
		PlacesBurst: placesBurst,
		MatrixRPS:   matrixRPS,
		MatrixBurst: matrixBurst,
	})
	client.SetLogger(logger.With("component", "google"))
	if !client.HasKey() {
		logger.Warn("no Google Maps API key configured; searches will return no places")
	}

	logger.Info("starting pottypal",
		"version", ver.BuildVersion,
		"store", envOr(storeBackend, "POTTYPAL_STORE", storage.BackendMemory),
		"places_rps", placesRPS,
		"matrix_rps", matrixRPS,
		"http_enabled", enableHTTP,
		"monitoring_enabled", enableMonitoring)

	var healthChecker *monitoring.HealthChecker
	if enableMonitoring || enableHTTP {
		healthChecker = monitoring.NewHealthChecker(monitoring.ServiceName, ver.BuildVersion)
		defer healthChecker.Shutdown()
		installMonitoringHooks()
		for _, m := range startDependencyMonitoring(healthChecker, client, store) {
			defer m.Stop()
		}
	}
	if enableMonitoring {
		startMonitoringServer(ctx, healthChecker, logger)
	}

	watcher := newWatcher(os.Stdout, logger)
	svc, err := session.New(session.Deps{
		Store:  store,
		Search: client,
		Router: client,
		Hooks:  watcher.hooks(),
	}, session.DefaultConfig())
	if err != nil {
		return err
	}
	svc.SetLogger(logger)
	defer svc.Close()
	watcher.svc = svc

	if saveMode != "" {
		mode, ok := places.ParseTravelMode(strings.ToLower(saveMode))
		if !ok {
			return fmt.Errorf("unknown travel mode %q", saveMode)
		}
		if err := svc.SetTravelMode(ctx, mode); err != nil {
			return err
		}
		logger.Info("travel mode saved", "mode", mode)
		return nil
	}

	registry := tools.NewRegistry(logger.With("component", "tools"), svc)
	srv := server.NewServer(registry, logger.With("component", "server"))

	if enableHTTP {
		transport := server.NewHTTPTransport(srv.MCPServer(), srv.RestroomHandler(), server.HTTPTransportConfig{
			Addr:        httpAddr,
			BaseURL:     httpBaseURL,
			AuthType:    httpAuthType,
			AuthToken:   envOr(httpAuthToken, "POTTYPAL_HTTP_TOKEN", ""),
			MCPEndpoint: "/mcp",
			RateLimit:   httpRateLimit,
			RateBurst:   httpRateBurst,
		}, logger.With("component", "http"))
		transport.SetHealthChecker(healthChecker)

		go func() {
			if err := transport.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP transport error", "error", err)
				stop()
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := transport.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to shutdown HTTP transport", "error", err)
			}
		}()
	}

	switch {
	case mcpMode:
		logger.Info("transport_enabled", "type", "stdio")
		return srv.RunWithContext(ctx)
	case watch:
		return watcher.run(ctx, os.Stdin)
	case at != "":
		return searchOnce(ctx, registry)
	case enableHTTP:
		logger.Info("server_ready", "transports", []string{"http"})
		<-ctx.Done()
		logger.Info("shutdown signal received")
		return nil
	default:
		flag.Usage()
		return errors.New("one of -at, -watch, -mcp or -enable-http is required")
	}
}

// searchOnce runs find_restrooms for the command line flags and prints
// its JSON result.
func searchOnce(ctx context.Context, registry *tools.Registry) error {
	center, format, err := coords.Parse(at)
	if err != nil {
		return fmt.Errorf("parsing -at: %w", err)
	}
	slog.Debug("parsed position", "format", format, "latitude", center.Latitude, "longitude", center.Longitude)

	r := radius
	if span > 0 {
		r = geo.RegionRadius(geo.Region{
			Latitude:       center.Latitude,
			Longitude:      center.Longitude,
			LatitudeDelta:  span,
			LongitudeDelta: span,
		})
	}

	args := map[string]any{
		"latitude":  center.Latitude,
		"longitude": center.Longitude,
		"radius":    r,
		"open_now":  openNow,
		"sort":      sortOrder,
		"limit":     limit,
	}
	if category != "" {
		args["category"] = category
	}
	if travelMode != "" {
		args["travel_mode"] = travelMode
	}

	var req mcp.CallToolRequest
	req.Params.Name = tools.ToolFindRestrooms
	req.Params.Arguments = args

	result, err := registry.HandleFindRestrooms(ctx, req)
	if err != nil {
		return err
	}
	for _, c := range result.Content {
		if text, ok := c.(mcp.TextContent); ok {
			fmt.Println(text.Text)
		}
	}
	if result.IsError {
		return errors.New("search rejected")
	}
	return nil
}

func installMonitoringHooks() {
	google.SetMonitoringHooks(&google.MonitoringHooks{
		OnResponse: func(service, operation string, duration time.Duration, success bool) {
			monitoring.RecordExternalServiceRequest(service, operation, duration, success)
		},
		OnRateLimit: func(service string, waitTime time.Duration) {
			monitoring.RecordRateLimitWait(service, waitTime)
			monitoring.RecordRateLimitExceeded(service)
		},
		OnError: func(service, errorType string) {
			monitoring.RecordError(service, errorType)
		},
	})
}

// startDependencyMonitoring probes the Google endpoints and, for
// networked backends, the persistent store.
func startDependencyMonitoring(hc *monitoring.HealthChecker, client *google.Client, store storage.Store) []*monitoring.ConnectionMonitor {
	monitors := []*monitoring.ConnectionMonitor{
		monitoring.NewConnectionMonitor(tracing.ServicePlaces, hc, client.CheckPlacesHealth, probeInterval),
		monitoring.NewConnectionMonitor(tracing.ServiceDistanceMatrix, hc, client.CheckMatrixHealth, probeInterval),
	}
	if p, ok := store.(storage.Pinger); ok {
		monitors = append(monitors, monitoring.NewConnectionMonitor("store", hc, p.Ping, probeInterval))
	}
	for _, m := range monitors {
		m.Start()
	}
	return monitors
}

func startMonitoringServer(ctx context.Context, hc *monitoring.HealthChecker, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	hc.Register(mux)

	srv := &http.Server{
		Addr:              monitoringAddr,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
	}
	go func() {
		logger.Info("starting Prometheus metrics server", "addr", monitoringAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("monitoring server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown monitoring server", "error", err)
		}
	}()
}
