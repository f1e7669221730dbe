package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/NERVsystems/pottypal/pkg/core"
	"github.com/NERVsystems/pottypal/pkg/geo"
	"github.com/NERVsystems/pottypal/pkg/places"
	"github.com/NERVsystems/pottypal/pkg/tracing"
)

// MaxResultCount is the upstream page size cap for nearby search.
const MaxResultCount = 20

// FieldMask lists the response fields requested from nearby search.
var FieldMask = strings.Join([]string{
	"places.displayName",
	"places.formattedAddress",
	"places.location",
	"places.rating",
	"places.userRatingCount",
	"places.restroom",
	"places.accessibilityOptions",
	"places.primaryType",
	"places.googleMapsUri",
	"places.googleMapsLinks.directionsUri",
	"places.googleMapsLinks.placeUri",
	"places.currentOpeningHours.openNow",
	"places.currentOpeningHours.weekdayDescriptions",
}, ",")

type circle struct {
	Center geo.Location `json:"center"`
	Radius float64      `json:"radius"`
}

type nearbyRequest struct {
	IncludedTypes       []string `json:"includedTypes"`
	MaxResultCount      int      `json:"maxResultCount"`
	RankPreference      string   `json:"rankPreference"`
	LocationRestriction struct {
		Circle circle `json:"circle"`
	} `json:"locationRestriction"`
}

type nearbyResponse struct {
	Places []places.Place `json:"places"`
}

// SearchNearby returns up to MaxResultCount places of the fixed restroom
// categories inside the circle, nearest first. The result is unfiltered:
// callers drop places without a restroom themselves.
func (c *Client) SearchNearby(ctx context.Context, lat, lng, radius float64) ([]places.Place, error) {
	if !c.HasKey() {
		return nil, c.missingKey()
	}
	if err := geo.ValidateCoords(lat, lng); err != nil {
		return nil, core.NewValidationError(core.ErrInvalidInput, err.Error())
	}
	if radius <= 0 {
		return nil, core.NewValidationError(core.ErrInvalidRadius, fmt.Sprintf("radius must be positive, got %v", radius))
	}

	ctx, span := tracing.StartSpan(ctx, "google.search_nearby",
		trace.WithAttributes(tracing.RegionAttributes(lat, lng, radius)...),
	)
	defer span.End()

	body := nearbyRequest{
		IncludedTypes:  places.IncludedTypes,
		MaxResultCount: MaxResultCount,
		RankPreference: "DISTANCE",
	}
	body.LocationRestriction.Circle = circle{
		Center: geo.Location{Latitude: lat, Longitude: lng},
		Radius: radius,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, core.Wrap(core.ErrInternalError, err, "encoding nearby search")
	}

	endpoint := c.cfg.PlacesBaseURL + "/places:searchNearby"
	factory := func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Goog-Api-Key", c.cfg.APIKey)
		req.Header.Set("X-Goog-FieldMask", FieldMask)
		return req, nil
	}

	var resp nearbyResponse
	if err := c.do(ctx, tracing.ServicePlaces, "search_nearby", c.placesLimiter, factory, &resp); err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int(tracing.AttrPlaceCount, len(resp.Places)))
	c.logger.Debug("nearby search complete",
		"lat", lat, "lng", lng, "radius", radius, "count", len(resp.Places))
	return resp.Places, nil
}
