package tools

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/NERVsystems/pottypal/pkg/coords"
	"github.com/NERVsystems/pottypal/pkg/core"
	"github.com/NERVsystems/pottypal/pkg/geo"
	"github.com/NERVsystems/pottypal/pkg/places"
	"github.com/NERVsystems/pottypal/pkg/session"
)

// Search limits.
const (
	DefaultSearchRadius = 800.0
	MaxSearchRadius     = 50000.0
	DefaultResultLimit  = 20
)

// FindRestroomsInput is the find_restrooms argument object. The center is
// either latitude/longitude or a position string.
type FindRestroomsInput struct {
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
	Position   string   `json:"position,omitempty"`
	Radius     float64  `json:"radius,omitempty"`
	Category   string   `json:"category,omitempty"`
	OpenNow    bool     `json:"open_now,omitempty"`
	Sort       string   `json:"sort,omitempty"`
	TravelMode string   `json:"travel_mode,omitempty"`
	Limit      int      `json:"limit,omitempty"`
}

// RestroomResult is one place in the find_restrooms output.
type RestroomResult struct {
	Name                 string             `json:"name"`
	Address              string             `json:"address,omitempty"`
	Category             places.Category    `json:"category"`
	PrimaryType          string             `json:"primary_type,omitempty"`
	Rating               float64            `json:"rating,omitempty"`
	RatingCount          int                `json:"rating_count,omitempty"`
	OpenNow              bool               `json:"open_now"`
	DistanceMeters       float64            `json:"distance_meters"`
	Walking              *places.TravelInfo `json:"walking,omitempty"`
	Driving              *places.TravelInfo `json:"driving,omitempty"`
	WheelchairAccessible bool               `json:"wheelchair_accessible_restroom,omitempty"`
	MapsURI              string             `json:"maps_uri,omitempty"`
}

// FindRestroomsOutput is the find_restrooms result.
type FindRestroomsOutput struct {
	Center     geo.Location      `json:"center"`
	Radius     float64           `json:"radius"`
	TravelMode places.TravelMode `json:"travel_mode"`
	Sort       places.SortOrder  `json:"sort"`
	Count      int               `json:"count"`
	Restrooms  []RestroomResult  `json:"restrooms"`
}

// FindRestroomsTool returns the find_restrooms definition.
func FindRestroomsTool() mcp.Tool {
	categories := make([]string, len(places.Categories))
	for i, c := range places.Categories {
		categories[i] = string(c)
	}
	return mcp.NewTool(ToolFindRestrooms,
		mcp.WithDescription("Find nearby places with a restroom, with walking and driving estimates from the given position"),
		mcp.WithNumber("latitude",
			mcp.Description("Latitude of the search center"),
		),
		mcp.WithNumber("longitude",
			mcp.Description("Longitude of the search center"),
		),
		mcp.WithString("position",
			mcp.Description("Search center as decimal degrees, DMS or an MGRS grid reference; used instead of latitude/longitude"),
		),
		mcp.WithNumber("radius",
			mcp.Description(fmt.Sprintf("Search radius in meters (max %.0f)", MaxSearchRadius)),
			mcp.DefaultNumber(DefaultSearchRadius),
		),
		mcp.WithString("category",
			mcp.Description("Only return one category"),
			mcp.Enum(categories...),
		),
		mcp.WithBoolean("open_now",
			mcp.Description("Only return places currently open"),
		),
		mcp.WithString("sort",
			mcp.Description("Result order"),
			mcp.Enum(string(places.SortDistance), string(places.SortPopularity)),
			mcp.DefaultString(string(places.SortDistance)),
		),
		mcp.WithString("travel_mode",
			mcp.Description("Travel mode used for distance ordering; defaults to the saved preference"),
			mcp.Enum(string(places.Walking), string(places.Driving)),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results to return"),
			mcp.DefaultNumber(DefaultResultLimit),
		),
	)
}

func (in FindRestroomsInput) center() (geo.Location, error) {
	if in.Position != "" {
		loc, _, err := coords.Parse(in.Position)
		if err != nil {
			return geo.Location{}, core.NewValidationError(core.ErrInvalidInput, err.Error()).
				WithQuery(in.Position).
				WithSuggestions("40.7128, -74.0060", `40°42'46"N 74°0'22"W`, "18TWL8396707441")
		}
		return loc, nil
	}
	if in.Latitude == nil || in.Longitude == nil {
		return geo.Location{}, core.NewValidationError(core.ErrMissingParameter,
			"either position or latitude and longitude are required")
	}
	lat, lng := *in.Latitude, *in.Longitude
	if lat < -90 || lat > 90 || math.IsNaN(lat) {
		return geo.Location{}, core.NewValidationError(core.ErrInvalidLatitude,
			fmt.Sprintf("latitude must be between -90 and 90, got %f", lat))
	}
	if lng < -180 || lng > 180 || math.IsNaN(lng) {
		return geo.Location{}, core.NewValidationError(core.ErrInvalidLongitude,
			fmt.Sprintf("longitude must be between -180 and 180, got %f", lng))
	}
	return geo.Location{Latitude: lat, Longitude: lng}, nil
}

// request validates the input and builds a session search.
func (in FindRestroomsInput) request() (session.SearchRequest, int, error) {
	center, err := in.center()
	if err != nil {
		return session.SearchRequest{}, 0, err
	}

	radius := in.Radius
	if radius == 0 {
		radius = DefaultSearchRadius
	}
	if radius < 0 || radius > MaxSearchRadius {
		return session.SearchRequest{}, 0, core.NewValidationError(core.ErrInvalidRadius,
			fmt.Sprintf("radius must be between 1 and %.0f meters, got %f", MaxSearchRadius, radius))
	}

	filters := places.AllFilters()
	if in.Category != "" {
		c, ok := places.ParseCategory(strings.ToLower(in.Category))
		if !ok {
			e := core.NewValidationError(core.ErrInvalidParameter, fmt.Sprintf("unknown category %q", in.Category))
			for _, c := range places.Categories {
				e.WithSuggestions(string(c))
			}
			return session.SearchRequest{}, 0, e
		}
		filters = places.Only(c)
	}
	filters.OpenNowOnly = in.OpenNow

	order := places.SortOrder(strings.ToLower(in.Sort))
	switch order {
	case "":
		order = places.SortDistance
	case places.SortDistance, places.SortPopularity:
	default:
		return session.SearchRequest{}, 0, core.NewValidationError(core.ErrInvalidParameter,
			fmt.Sprintf("unknown sort order %q", in.Sort)).
			WithSuggestions(string(places.SortDistance), string(places.SortPopularity))
	}

	var mode places.TravelMode
	if in.TravelMode != "" {
		m, ok := places.ParseTravelMode(strings.ToLower(in.TravelMode))
		if !ok {
			return session.SearchRequest{}, 0, core.NewValidationError(core.ErrInvalidParameter,
				fmt.Sprintf("unknown travel mode %q", in.TravelMode)).
				WithSuggestions(string(places.Walking), string(places.Driving))
		}
		mode = m
	}

	limit := in.Limit
	if limit <= 0 || limit > DefaultResultLimit {
		limit = DefaultResultLimit
	}

	return session.SearchRequest{
		Center:  center,
		Radius:  radius,
		Filters: &filters,
		Order:   order,
		Mode:    mode,
	}, limit, nil
}

// HandleFindRestrooms implements find_restrooms.
func (r *Registry) HandleFindRestrooms(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return WithParsedInput(ToolFindRestrooms, func(ctx context.Context, in FindRestroomsInput, logger *slog.Logger) (interface{}, error) {
		search, limit, err := in.request()
		if err != nil {
			return nil, err
		}
		if search.Mode == "" {
			search.Mode = r.session.TravelMode(ctx)
		}

		found := r.session.Search(ctx, search)
		logger.Debug("restroom search", "center", search.Center, "radius", search.Radius, "results", len(found))
		if len(found) > limit {
			found = found[:limit]
		}

		out := FindRestroomsOutput{
			Center:     search.Center,
			Radius:     search.Radius,
			TravelMode: search.Mode,
			Sort:       search.Order,
			Count:      len(found),
			Restrooms:  make([]RestroomResult, 0, len(found)),
		}
		for _, p := range found {
			out.Restrooms = append(out.Restrooms, toResult(search.Center, p))
		}
		return out, nil
	})(ctx, req)
}

func toResult(center geo.Location, p places.Place) RestroomResult {
	category, _ := places.CategoryOf(p.PrimaryType)
	res := RestroomResult{
		Name:           p.Name(),
		Address:        p.FormattedAddress,
		Category:       category,
		PrimaryType:    p.PrimaryType,
		Rating:         p.Rating,
		RatingCount:    p.UserRatingCount,
		OpenNow:        p.OpenNow(),
		DistanceMeters: math.Round(geo.Distance(center, p.Location)),
		MapsURI:        p.URI,
	}
	if p.DistanceInfo != nil {
		walking, driving := p.DistanceInfo.Walking, p.DistanceInfo.Driving
		res.Walking, res.Driving = &walking, &driving
	}
	if p.AccessibilityOptions != nil {
		res.WheelchairAccessible = p.AccessibilityOptions.WheelchairAccessibleRestroom
	}
	return res
}
