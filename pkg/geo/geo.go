// Package geo provides the small amount of spherical geometry the place
// acquisition core depends on. Downstream thresholds (100 m fuzzy cache
// radius, 160 m re-enrichment, coverage margins) are tuned against these
// exact formulas, so they must not be swapped for approximations.
package geo

import (
	"fmt"
	"math"
)

// EarthRadius is the mean Earth radius in meters.
const EarthRadius = 6371000.0

// RegionScale divides the viewport width so that the circular search
// radius covers the visible rectangle without being wastefully large.
const RegionScale = 1.75

// Location is a WGS84 point in decimal degrees.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Region is a map viewport: a center plus degree spans.
type Region struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	LatitudeDelta  float64 `json:"latitudeDelta"`
	LongitudeDelta float64 `json:"longitudeDelta"`
}

// Center returns the viewport center.
func (r Region) Center() Location {
	return Location{Latitude: r.Latitude, Longitude: r.Longitude}
}

// HaversineDistance returns the great-circle distance in meters.
func HaversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadius * c
}

// Distance is HaversineDistance over two Locations.
func Distance(a, b Location) float64 {
	return HaversineDistance(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
}

// RegionRadius converts a viewport into a search radius in meters.
func RegionRadius(r Region) float64 {
	metersPerDegreeLng := math.Cos(toRadians(r.Latitude)) * (math.Pi / 180) * EarthRadius
	width := metersPerDegreeLng * r.LongitudeDelta
	return width / RegionScale
}

// ValidateCoords checks that a latitude/longitude pair is in range.
func ValidateCoords(lat, lon float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return fmt.Errorf("latitude out of range: %f", lat)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return fmt.Errorf("longitude out of range: %f", lon)
	}
	return nil
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
