package tools

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/NERVsystems/pottypal/pkg/version"
)

// GetVersionTool returns a tool definition for retrieving version information
func GetVersionTool() mcp.Tool {
	return mcp.NewTool(ToolGetVersion,
		mcp.WithDescription("Get the version and build information of the restroom finder"),
	)
}

// HandleGetVersion reports the build metadata.
func HandleGetVersion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, err := json.Marshal(version.Info())
	if err != nil {
		slog.Default().With("tool", ToolGetVersion).Error("failed to marshal version info", "error", err)
		return ErrorResponse("Failed to retrieve version information"), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}
