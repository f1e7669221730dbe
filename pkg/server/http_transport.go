package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"golang.org/x/time/rate"

	"github.com/NERVsystems/pottypal/pkg/core"
	"github.com/NERVsystems/pottypal/pkg/monitoring"
)

// Authentication modes.
const (
	AuthNone   = "none"
	AuthBearer = "bearer"
	AuthBasic  = "basic"
)

// HTTPTransportConfig holds configuration for the HTTP transport
type HTTPTransportConfig struct {
	Addr        string `json:"addr"`
	BaseURL     string `json:"base_url"`
	AuthType    string `json:"auth_type"`
	AuthToken   string `json:"auth_token"` // for basic auth, "user:password"
	MCPEndpoint string `json:"mcp_endpoint"`

	// RateLimit is requests per second per client IP; 0 disables it.
	RateLimit      float64 `json:"rate_limit"`
	RateBurst      int     `json:"rate_burst"`
	MaxRequestSize int64   `json:"max_request_size"`
}

// DefaultHTTPTransportConfig returns sensible defaults
func DefaultHTTPTransportConfig() HTTPTransportConfig {
	return HTTPTransportConfig{
		Addr:           ":7082",
		AuthType:       AuthNone,
		MCPEndpoint:    "/mcp",
		RateLimit:      10,
		RateBurst:      20,
		MaxRequestSize: 1 << 20,
	}
}

// HTTPTransport serves the MCP streamable HTTP endpoint next to the
// restroom REST endpoint and health probes.
type HTTPTransport struct {
	config        HTTPTransportConfig
	logger        *slog.Logger
	streamable    *mcpserver.StreamableHTTPServer
	mux           *http.ServeMux
	rateLimiter   *RateLimiter
	healthChecker *monitoring.HealthChecker

	mu      sync.RWMutex
	httpSrv *http.Server
}

// NewHTTPTransport creates a new HTTP transport instance. api, when non-nil,
// is mounted under /restrooms.
func NewHTTPTransport(mcpServer *mcpserver.MCPServer, api http.Handler, config HTTPTransportConfig, logger *slog.Logger) *HTTPTransport {
	if logger == nil {
		logger = slog.Default().With("component", "http")
	}
	def := DefaultHTTPTransportConfig()
	if config.MCPEndpoint == "" {
		config.MCPEndpoint = def.MCPEndpoint
	}
	if config.AuthType == "" {
		config.AuthType = AuthNone
	}
	if config.MaxRequestSize <= 0 {
		config.MaxRequestSize = def.MaxRequestSize
	}
	if config.AuthType != AuthNone {
		if err := core.ValidateAuthToken(config.AuthToken); err != nil {
			logger.Warn("weak authentication token detected", "error", err)
		}
	}

	t := &HTTPTransport{
		config: config,
		logger: logger,
		streamable: mcpserver.NewStreamableHTTPServer(mcpServer,
			mcpserver.WithEndpointPath(config.MCPEndpoint),
		),
		mux: http.NewServeMux(),
	}
	if config.RateLimit > 0 {
		t.rateLimiter = NewRateLimiter(rate.Limit(config.RateLimit), max(config.RateBurst, 1))
	}

	t.mux.HandleFunc("/", t.handleServiceDiscovery)
	t.mux.HandleFunc("/health", t.handleHealth)
	t.mux.Handle(config.MCPEndpoint, t.authMiddleware(t.streamable))
	if api != nil {
		t.mux.Handle("/restrooms", t.authMiddleware(api))
	}
	return t
}

// SetHealthChecker sets the health checker for the HTTP transport
func (t *HTTPTransport) SetHealthChecker(hc *monitoring.HealthChecker) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.healthChecker = hc
}

func (t *HTTPTransport) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var res core.AuthResult
		switch t.config.AuthType {
		case AuthNone:
			next.ServeHTTP(w, r)
			return
		case AuthBearer:
			res = core.AuthenticateBearer(r.Header.Get("Authorization"), t.config.AuthToken)
		case AuthBasic:
			user, pass, _ := r.BasicAuth()
			res = core.AuthenticateBasic(user, pass, t.config.AuthToken)
		default:
			res = core.AuthResult{Error: "Unknown auth type"}
		}

		if !res.Authorized {
			t.logger.Warn("authentication failed",
				"remote_addr", clientIP(r),
				"path", r.URL.Path,
				"auth_type", t.config.AuthType,
				"error", res.Error)
			monitoring.RecordError("http", "auth_failed")
			if t.config.AuthType == AuthBasic {
				w.Header().Set("WWW-Authenticate", `Basic realm="pottypal"`)
			} else {
				w.Header().Set("WWW-Authenticate", "Bearer")
			}
			writeJSONRPCError(w, http.StatusUnauthorized, -32001, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (t *HTTPTransport) handleServiceDiscovery(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	baseURL := t.config.BaseURL
	if baseURL == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s", scheme, r.Host)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"service":   ServerName,
		"transport": "streamable-http",
		"endpoints": map[string]string{
			"mcp":       baseURL + t.config.MCPEndpoint,
			"restrooms": baseURL + "/restrooms",
		},
		"auth": map[string]any{
			"required": t.config.AuthType != AuthNone,
		},
	})
}

func (t *HTTPTransport) handleHealth(w http.ResponseWriter, r *http.Request) {
	t.mu.RLock()
	hc := t.healthChecker
	t.mu.RUnlock()

	if hc != nil {
		hc.HealthHandler()(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Handler returns the mux wrapped in the middleware chain.
func (t *HTTPTransport) Handler() http.Handler {
	h := http.Handler(t.mux)
	if t.rateLimiter != nil {
		h = t.rateLimiter.Middleware(h)
	}
	h = TracingMiddleware()(h)
	h = LoggingMiddleware(t.logger)(h)
	h = SecurityHeaders(h)
	return RequestSizeLimiter(t.config.MaxRequestSize)(h)
}

// Start serves until Shutdown. It returns http.ErrServerClosed after a
// clean shutdown.
func (t *HTTPTransport) Start() error {
	t.mu.Lock()
	if t.httpSrv != nil {
		t.mu.Unlock()
		return core.NewError(core.ErrInternalError, "HTTP transport already started").
			WithGuidance("Stop the running transport before starting it again.")
	}
	t.httpSrv = &http.Server{
		Addr:              t.config.Addr,
		Handler:           t.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	srv := t.httpSrv
	t.mu.Unlock()

	t.logger.Info("starting HTTP transport",
		"addr", t.config.Addr,
		"mcp_endpoint", t.config.MCPEndpoint,
		"auth_type", t.config.AuthType,
		"rate_limit", t.config.RateLimit)
	return srv.ListenAndServe()
}

// Shutdown gracefully stops the HTTP transport
func (t *HTTPTransport) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rateLimiter != nil {
		t.rateLimiter.Stop()
	}
	if t.httpSrv == nil {
		return nil
	}
	t.logger.Info("shutting down HTTP transport")
	if err := t.streamable.Shutdown(ctx); err != nil {
		t.logger.Error("failed to shutdown MCP endpoint", "error", err)
	}
	err := t.httpSrv.Shutdown(ctx)
	t.httpSrv = nil
	return err
}

func writeJSONRPCError(w http.ResponseWriter, status, code int, message string) {
	writeJSON(w, status, map[string]any{
		"jsonrpc": "2.0",
		"id":      nil,
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
