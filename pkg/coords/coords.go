// Package coords parses user-supplied positions for the command line
// and tool surfaces. A position may be written as decimal degrees
// ("40.7128, -74.0060"), degrees-minutes-seconds
// ("40°42'46\"N 74°0'22\"W") or an MGRS grid reference ("18SUJ2337506519").
package coords

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/akhenakh/mgrs"

	"github.com/NERVsystems/pottypal/pkg/geo"
)

// Format identifies how a position string was written.
type Format int

const (
	FormatUnknown Format = iota
	FormatDecimal
	FormatDMS
	FormatMGRS
)

func (f Format) String() string {
	switch f {
	case FormatDecimal:
		return "decimal"
	case FormatDMS:
		return "dms"
	case FormatMGRS:
		return "mgrs"
	default:
		return "unknown"
	}
}

var (
	mgrsPattern    = regexp.MustCompile(`(?i)^(\d{1,2})([C-HJ-NP-X])([A-HJ-NP-Z]{2})(\d{2,10})$`)
	dmsPattern     = regexp.MustCompile(`(?i)^(\d+)[°d\s]+(\d+)[′'m\s]+(\d+(?:\.\d+)?)[″"s]?\s*([NS])[\s,]+(\d+)[°d\s]+(\d+)[′'m\s]+(\d+(?:\.\d+)?)[″"s]?\s*([EW])$`)
	decimalPattern = regexp.MustCompile(`^(-?\d+(?:\.\d+)?)[,\s]+(-?\d+(?:\.\d+)?)$`)
)

// Parse detects the format of input and converts it to a Location.
func Parse(input string) (geo.Location, Format, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return geo.Location{}, FormatUnknown, fmt.Errorf("empty position")
	}

	var (
		loc    geo.Location
		format Format
		err    error
	)
	switch {
	case mgrsPattern.MatchString(strings.ReplaceAll(s, " ", "")):
		format = FormatMGRS
		loc, err = parseMGRS(strings.ToUpper(strings.ReplaceAll(s, " ", "")))
	case dmsPattern.MatchString(s):
		format = FormatDMS
		loc, err = parseDMS(s)
	case decimalPattern.MatchString(s):
		format = FormatDecimal
		loc, err = parseDecimal(s)
	default:
		return geo.Location{}, FormatUnknown, fmt.Errorf("unrecognized position format: %q", input)
	}
	if err != nil {
		return geo.Location{}, format, err
	}
	if err := geo.ValidateCoords(loc.Latitude, loc.Longitude); err != nil {
		return geo.Location{}, format, err
	}
	return loc, format, nil
}

func parseMGRS(s string) (geo.Location, error) {
	lat, lon, err := mgrs.MGRSToLatLng(s)
	if err != nil {
		return geo.Location{}, fmt.Errorf("mgrs conversion: %w", err)
	}
	return geo.Location{Latitude: lat, Longitude: lon}, nil
}

func parseDMS(s string) (geo.Location, error) {
	m := dmsPattern.FindStringSubmatch(s)

	lat, err := dmsComponent(m[1], m[2], m[3], 90)
	if err != nil {
		return geo.Location{}, fmt.Errorf("latitude: %w", err)
	}
	lon, err := dmsComponent(m[5], m[6], m[7], 180)
	if err != nil {
		return geo.Location{}, fmt.Errorf("longitude: %w", err)
	}
	if strings.EqualFold(m[4], "S") {
		lat = -lat
	}
	if strings.EqualFold(m[8], "W") {
		lon = -lon
	}
	return geo.Location{Latitude: lat, Longitude: lon}, nil
}

func dmsComponent(deg, mins, secs string, maxDeg float64) (float64, error) {
	d, _ := strconv.ParseFloat(deg, 64)
	m, _ := strconv.ParseFloat(mins, 64)
	s, _ := strconv.ParseFloat(secs, 64)
	if d > maxDeg || m >= 60 || s >= 60 {
		return 0, fmt.Errorf("out of range: %s°%s'%s\"", deg, mins, secs)
	}
	return d + m/60 + s/3600, nil
}

func parseDecimal(s string) (geo.Location, error) {
	m := decimalPattern.FindStringSubmatch(s)
	lat, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return geo.Location{}, fmt.Errorf("invalid latitude %q", m[1])
	}
	lon, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return geo.Location{}, fmt.Errorf("invalid longitude %q", m[2])
	}
	return geo.Location{Latitude: lat, Longitude: lon}, nil
}
