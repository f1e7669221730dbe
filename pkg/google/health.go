package google

import (
	"context"
	"fmt"
	"net/http"
)

// CheckPlacesHealth checks that the Places API endpoint answers. Any
// non-5xx status counts as reachable; the probe does not spend quota.
func (c *Client) CheckPlacesHealth(ctx context.Context) error {
	return c.probe(ctx, "places", c.cfg.PlacesBaseURL+"/places")
}

// CheckMatrixHealth checks that the Distance Matrix endpoint answers. An
// unparameterised request returns INVALID_REQUEST with a 200.
func (c *Client) CheckMatrixHealth(ctx context.Context) error {
	return c.probe(ctx, "distance matrix", c.cfg.MapsBaseURL+"/distancematrix/json")
}

func (c *Client) probe(ctx context.Context, service, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create %s health check request: %w", service, err)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s health check failed: %w", service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%s health check returned status %d", service, resp.StatusCode)
	}
	return nil
}
