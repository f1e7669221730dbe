package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/NERVsystems/pottypal/pkg/core"
	"github.com/NERVsystems/pottypal/pkg/places"
)

// SetTravelModeInput is the set_travel_mode argument object.
type SetTravelModeInput struct {
	Mode string `json:"mode"`
}

// SetTravelModeTool returns the set_travel_mode definition.
func SetTravelModeTool() mcp.Tool {
	return mcp.NewTool(ToolSetTravelMode,
		mcp.WithDescription("Save the preferred travel mode used to order restroom results"),
		mcp.WithString("mode",
			mcp.Required(),
			mcp.Description("Travel mode"),
			mcp.Enum(string(places.Walking), string(places.Driving)),
		),
	)
}

// HandleSetTravelMode implements set_travel_mode.
func (r *Registry) HandleSetTravelMode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return WithParsedInput(ToolSetTravelMode, func(ctx context.Context, in SetTravelModeInput, logger *slog.Logger) (interface{}, error) {
		mode, ok := places.ParseTravelMode(strings.ToLower(strings.TrimSpace(in.Mode)))
		if !ok {
			return nil, core.NewValidationError(core.ErrInvalidParameter,
				fmt.Sprintf("unknown travel mode %q", in.Mode)).
				WithSuggestions(string(places.Walking), string(places.Driving))
		}
		if err := r.session.SetTravelMode(ctx, mode); err != nil {
			return nil, core.Wrap(core.ErrInternalError, err, "saving travel mode")
		}
		logger.Info("travel mode saved", "mode", mode)
		return map[string]string{"travel_mode": string(mode)}, nil
	})(ctx, req)
}
