// Package server runs the restroom finder tools over stdio and HTTP.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/NERVsystems/pottypal/pkg/tools"
	"github.com/NERVsystems/pottypal/pkg/version"
)

// ServerName is the name advertised to MCP clients.
const ServerName = "pottypal"

// Server owns the MCP server built from a tool registry.
type Server struct {
	srv      *mcpserver.MCPServer
	registry *tools.Registry
	logger   *slog.Logger

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewServer registers every tool of registry on a fresh MCP server.
func NewServer(registry *tools.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default().With("component", "server")
	}
	logger.Info("initializing MCP server", "name", ServerName, "version", version.BuildVersion)
	return &Server{
		srv:      registry.NewServer(ServerName, version.BuildVersion),
		registry: registry,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// MCPServer returns the underlying MCP server for the HTTP transport.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.srv
}

// RunWithContext serves stdio until ctx is done, stdin closes or Shutdown
// is called.
func (s *Server) RunWithContext(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	go func() {
		defer close(s.doneCh)
		if err := mcpserver.ServeStdio(s.srv); err != nil && !errors.Is(err, io.EOF) {
			s.logger.Error("stdio server error", "error", err)
		}
		s.Shutdown()
	}()

	select {
	case <-ctx.Done():
		s.Shutdown()
	case <-s.stopCh:
	}
	return nil
}

// Shutdown signals RunWithContext to return. It does not block.
func (s *Server) Shutdown() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// WaitForShutdown blocks until the stdio loop has exited.
func (s *Server) WaitForShutdown() {
	<-s.doneCh
}

// RestroomHandler answers GET /restrooms by running find_restrooms with
// the query parameters as arguments.
func (s *Server) RestroomHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		args, err := queryArguments(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		var req mcp.CallToolRequest
		req.Params.Name = tools.ToolFindRestrooms
		req.Params.Arguments = args

		result, err := s.registry.HandleFindRestrooms(r.Context(), req)
		if err != nil {
			s.logger.Error("restroom request failed", "request_id", RequestID(r.Context()), "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		status := http.StatusOK
		if result.IsError {
			status = http.StatusBadRequest
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		for _, c := range result.Content {
			if text, ok := c.(mcp.TextContent); ok {
				_, _ = io.WriteString(w, text.Text)
				break
			}
		}
	})
}

var (
	floatParams  = []string{"latitude", "longitude", "radius"}
	stringParams = []string{"position", "category", "sort", "travel_mode"}
)

func queryArguments(r *http.Request) (map[string]any, error) {
	q := r.URL.Query()
	args := make(map[string]any)
	for _, name := range floatParams {
		if v := q.Get(name); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, errors.New(name + " must be a number")
			}
			args[name] = f
		}
	}
	for _, name := range stringParams {
		if v := q.Get(name); v != "" {
			args[name] = v
		}
	}
	if v := q.Get("open_now"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errors.New("open_now must be a boolean")
		}
		args["open_now"] = b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.New("limit must be an integer")
		}
		args["limit"] = n
	}
	return args, nil
}
