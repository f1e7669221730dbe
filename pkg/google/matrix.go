package google

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/NERVsystems/pottypal/pkg/core"
	"github.com/NERVsystems/pottypal/pkg/geo"
	"github.com/NERVsystems/pottypal/pkg/places"
	"github.com/NERVsystems/pottypal/pkg/tracing"
)

type matrixValue struct {
	Text  string  `json:"text"`
	Value float64 `json:"value"`
}

type matrixElement struct {
	Status   string      `json:"status"`
	Duration matrixValue `json:"duration"`
	Distance matrixValue `json:"distance"`
}

type matrixResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	Rows         []struct {
		Elements []matrixElement `json:"elements"`
	} `json:"rows"`
}

func formatLatLng(l geo.Location) string {
	return fmt.Sprintf("%v,%v", l.Latitude, l.Longitude)
}

// DistanceMatrix returns the formatted travel time and distance from
// origin to destination for mode, in imperial units. A response whose
// top-level or element status is not OK is an ErrUpstreamStatus error.
func (c *Client) DistanceMatrix(ctx context.Context, origin, destination geo.Location, mode places.TravelMode) (places.TravelInfo, error) {
	if !c.HasKey() {
		return places.TravelInfo{}, c.missingKey()
	}

	ctx, span := tracing.StartSpan(ctx, "google.distance_matrix",
		trace.WithAttributes(attribute.String(tracing.AttrTravelMode, string(mode))),
	)
	defer span.End()

	q := url.Values{}
	q.Set("origins", formatLatLng(origin))
	q.Set("destinations", formatLatLng(destination))
	q.Set("mode", string(mode))
	q.Set("units", "imperial")
	q.Set("key", c.cfg.APIKey)
	endpoint := c.cfg.MapsBaseURL + "/distancematrix/json?" + q.Encode()

	factory := func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, endpoint, nil)
	}

	var resp matrixResponse
	if err := c.do(ctx, tracing.ServiceDistanceMatrix, string(mode), c.matrixLimiter, factory, &resp); err != nil {
		return places.TravelInfo{}, err
	}

	if resp.Status != "OK" {
		return places.TravelInfo{}, core.NewError(core.ErrUpstreamStatus,
			fmt.Sprintf("distance matrix status %s %s", resp.Status, resp.ErrorMessage))
	}
	if len(resp.Rows) == 0 || len(resp.Rows[0].Elements) == 0 {
		return places.TravelInfo{}, core.NewError(core.ErrNoResults, "distance matrix returned no elements")
	}
	el := resp.Rows[0].Elements[0]
	if el.Status != "OK" {
		return places.TravelInfo{}, core.NewError(core.ErrUpstreamStatus,
			fmt.Sprintf("distance matrix element status %s", el.Status))
	}
	return places.TravelInfo{Duration: el.Duration.Text, Distance: el.Distance.Text}, nil
}
