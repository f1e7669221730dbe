// Package places defines the restroom-bearing point of interest model
// shared by the cache, the fetcher and the UI collaborators, together
// with the list operations the UI needs: deduplicating merge, category
// filters and sorting.
package places

import (
	"github.com/google/uuid"

	"github.com/NERVsystems/pottypal/pkg/geo"
)

// PublicBathroomType is the upstream primary type that always qualifies
// a place even when the restroom attribute is missing.
const PublicBathroomType = "public_bathroom"

// Unavailable marks a travel mode whose estimate could not be computed.
const Unavailable = "Unavailable"

// DisplayName is the localized place name.
type DisplayName struct {
	Text         string `json:"text"`
	LanguageCode string `json:"languageCode,omitempty"`
}

// OpeningHours is the upstream "current opening hours" block.
// WeekdayDescriptions holds seven lines such as "Monday: 9:00 AM – 5:00 PM".
type OpeningHours struct {
	OpenNow             bool     `json:"openNow"`
	WeekdayDescriptions []string `json:"weekdayDescriptions,omitempty"`
}

type AccessibilityOptions struct {
	WheelchairAccessibleParking  bool `json:"wheelchairAccessibleParking,omitempty"`
	WheelchairAccessibleEntrance bool `json:"wheelchairAccessibleEntrance,omitempty"`
	WheelchairAccessibleRestroom bool `json:"wheelchairAccessibleRestroom,omitempty"`
}

type MapsLinks struct {
	DirectionsURI   string `json:"directionsUri,omitempty"`
	PlaceURI        string `json:"placeUri,omitempty"`
	WriteAReviewURI string `json:"writeAReviewUri,omitempty"`
	ReviewsURI      string `json:"reviewsUri,omitempty"`
	PhotosURI       string `json:"photosUri,omitempty"`
}

// TravelInfo is a formatted travel estimate, e.g. {"12 mins", "0.6 mi"}.
type TravelInfo struct {
	Duration string `json:"duration"`
	Distance string `json:"distance"`
}

// UnavailableTravel is recorded for a mode whose lookup failed.
var UnavailableTravel = TravelInfo{Duration: Unavailable, Distance: Unavailable}

// DistanceInfo carries travel estimates from the user to the place.
type DistanceInfo struct {
	Walking TravelInfo `json:"walking"`
	Driving TravelInfo `json:"driving"`
}

// ForMode returns the estimate for a travel mode.
func (d DistanceInfo) ForMode(mode TravelMode) TravelInfo {
	if mode == Driving {
		return d.Driving
	}
	return d.Walking
}

// Place is a point of interest as returned by the nearby search, with
// optional travel estimates attached by enrichment. JSON field names
// follow the upstream API so cached entries round-trip unchanged.
type Place struct {
	DisplayName          *DisplayName          `json:"displayName,omitempty"`
	FormattedAddress     string                `json:"formattedAddress,omitempty"`
	Location             geo.Location          `json:"location"`
	PrimaryType          string                `json:"primaryType,omitempty"`
	Rating               float64               `json:"rating,omitempty"`
	UserRatingCount      int                   `json:"userRatingCount,omitempty"`
	Restroom             bool                  `json:"restroom,omitempty"`
	OpeningHours         *OpeningHours         `json:"currentOpeningHours,omitempty"`
	AccessibilityOptions *AccessibilityOptions `json:"accessibilityOptions,omitempty"`
	URI                  string                `json:"googleMapsUri,omitempty"`
	Links                *MapsLinks            `json:"googleMapsLinks,omitempty"`
	DistanceInfo         *DistanceInfo         `json:"distanceInfo,omitempty"`

	localKey string
}

// Name returns the display name text, or "" when absent.
func (p Place) Name() string {
	if p.DisplayName == nil {
		return ""
	}
	return p.DisplayName.Text
}

// HasRestroom reports whether the place qualifies for the result list.
func (p Place) HasRestroom() bool {
	return p.Restroom || p.PrimaryType == PublicBathroomType
}

// OpenNow reports the upstream open flag; places without hours are
// treated as closed.
func (p Place) OpenNow() bool {
	return p.OpeningHours != nil && p.OpeningHours.OpenNow
}

// EnsureKey assigns a random local key to places without a stable URI.
// The local key identifies the entry in UI lists only; it is regenerated
// on every decode and never used for deduplication.
func (p *Place) EnsureKey() {
	if p.URI == "" && p.localKey == "" {
		p.localKey = uuid.NewString()
	}
}

// Key returns the stable URI, or the local key for URI-less places.
func (p Place) Key() string {
	if p.URI != "" {
		return p.URI
	}
	return p.localKey
}

// TravelMode selects which estimate drives sorting and display.
type TravelMode string

const (
	Walking TravelMode = "walking"
	Driving TravelMode = "driving"
)

// Modes lists the travel modes enrichment computes.
var Modes = []TravelMode{Walking, Driving}

// ParseTravelMode validates a mode string.
func ParseTravelMode(s string) (TravelMode, bool) {
	switch TravelMode(s) {
	case Walking:
		return Walking, true
	case Driving:
		return Driving, true
	}
	return "", false
}
