package tools

import (
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/NERVsystems/pottypal/pkg/core"
)

// ErrorResponse returns a plain error result.
func ErrorResponse(message string) *mcp.CallToolResult {
	return mcp.NewToolResultError(message)
}

// errorResult converts err to a tool result, keeping the code and
// guidance of a *core.Error.
func errorResult(err error) *mcp.CallToolResult {
	var e *core.Error
	if errors.As(err, &e) {
		return e.ToMCPResult()
	}
	return ErrorResponse(fmt.Sprintf("Failed to process request: %v", err))
}

// GetToolUsageExample returns an example argument object for a tool.
func GetToolUsageExample(toolName string) string {
	examples := map[string]string{
		ToolFindRestrooms: `{
  "latitude": 40.7128,
  "longitude": -74.0060,
  "radius": 800,
  "category": "cafe",
  "open_now": true
}`,
		ToolSetTravelMode: `{
  "mode": "driving"
}`,
	}
	if example, ok := examples[toolName]; ok {
		return example
	}
	return `{}`
}
