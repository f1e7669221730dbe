// Package tools exposes the restroom finder as MCP tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/NERVsystems/pottypal/pkg/monitoring"
	"github.com/NERVsystems/pottypal/pkg/session"
	"github.com/NERVsystems/pottypal/pkg/tracing"
)

// Tool names.
const (
	ToolFindRestrooms = "find_restrooms"
	ToolSetTravelMode = "set_travel_mode"
	ToolGetVersion    = "get_version"
)

// Handler is an MCP tool handler.
type Handler func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)

// Registry contains all tool definitions and handlers
type Registry struct {
	logger  *slog.Logger
	session *session.Service
}

// NewRegistry creates a registry serving tools from svc.
func NewRegistry(logger *slog.Logger, svc *session.Service) *Registry {
	return &Registry{
		logger:  logger,
		session: svc,
	}
}

// ToolDefinition pairs a tool with its handler.
type ToolDefinition struct {
	Name        string
	Description string
	Tool        mcp.Tool
	Handler     Handler
}

// GetToolDefinitions returns the list of all available tools.
func (r *Registry) GetToolDefinitions() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        ToolFindRestrooms,
			Description: "Find nearby places with a restroom. Parameters: latitude (number), longitude (number) or position (string), radius (number in meters), category (string), open_now (boolean), sort (string: distance, popularity), travel_mode (string: walking, driving), limit (number)",
			Tool:        FindRestroomsTool(),
			Handler:     r.HandleFindRestrooms,
		},
		{
			Name:        ToolSetTravelMode,
			Description: "Save the preferred travel mode. Parameters: mode (string: walking, driving)",
			Tool:        SetTravelModeTool(),
			Handler:     r.HandleSetTravelMode,
		},
		{
			Name:        ToolGetVersion,
			Description: "Get the version information for this service",
			Tool:        GetVersionTool(),
			Handler:     HandleGetVersion,
		},
	}
}

// RegisterTools registers all tools with the MCP server.
func (r *Registry) RegisterTools(mcpServer *server.MCPServer) {
	for _, def := range r.GetToolDefinitions() {
		r.logger.Info("registering tool", "name", def.Name)
		mcpServer.AddTool(def.Tool, r.wrapWithTracing(def.Name, def.Handler))
	}
}

// wrapWithTracing adds a span and request metrics around a handler.
func (r *Registry) wrapWithTracing(toolName string, handler Handler) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, span := tracing.StartSpan(ctx, fmt.Sprintf("mcp.tool.%s", toolName),
			trace.WithAttributes(
				attribute.String(tracing.AttrMCPToolName, toolName),
			),
		)
		defer span.End()

		start := time.Now()
		result, err := handler(ctx, req)
		duration := time.Since(start)

		status := tracing.StatusSuccess
		switch {
		case err != nil:
			status = tracing.StatusError
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case result != nil && result.IsError:
			status = tracing.StatusError
			span.SetStatus(codes.Error, "tool returned an error result")
		default:
			span.SetStatus(codes.Ok, "")
		}

		resultSize := 0
		if result != nil && result.Content != nil {
			if data, marshalErr := json.Marshal(result.Content); marshalErr == nil {
				resultSize = len(data)
			}
		}

		span.SetAttributes(tracing.MCPToolAttributes(toolName, status, duration.Milliseconds(), resultSize)...)
		monitoring.RecordToolRequest(toolName, duration, status == tracing.StatusSuccess)

		r.logger.Debug("tool execution traced",
			"tool", toolName,
			"duration_ms", duration.Milliseconds(),
			"status", status,
			"result_size", resultSize,
		)

		return result, err
	}
}

// GetToolNames returns a list of all tool names.
func (r *Registry) GetToolNames() []string {
	defs := r.GetToolDefinitions()
	names := make([]string, len(defs))
	for i, def := range defs {
		names[i] = def.Name
	}
	return names
}

// NewServer builds an MCP server with every tool registered.
func (r *Registry) NewServer(name, version string) *server.MCPServer {
	s := server.NewMCPServer(name, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	r.RegisterTools(s)
	return s
}
