package coords

import (
	"math"
	"testing"
)

// about 10 meters at the equator
const tolerance = 0.0001

func TestParse(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantFormat Format
		wantLat    float64
		wantLon    float64
		wantErr    bool
	}{
		{name: "decimal with comma", input: "40.7128, -74.0060", wantFormat: FormatDecimal, wantLat: 40.7128, wantLon: -74.0060},
		{name: "decimal with space", input: "-33.8688 151.2093", wantFormat: FormatDecimal, wantLat: -33.8688, wantLon: 151.2093},
		{name: "integer decimal", input: "40,-74", wantFormat: FormatDecimal, wantLat: 40, wantLon: -74},
		{name: "dms symbols", input: `40°42'46"N 74°0'22"W`, wantFormat: FormatDMS, wantLat: 40.712778, wantLon: -74.006111},
		{name: "dms letters", input: "33d52m7sS 151d12m33sE", wantFormat: FormatDMS, wantLat: -33.868611, wantLon: 151.209167},
		{name: "dms minutes out of range", input: `40°61'00"N 74°0'22"W`, wantFormat: FormatDMS, wantErr: true},
		{name: "latitude out of range", input: "91.0, 10.0", wantFormat: FormatDecimal, wantErr: true},
		{name: "empty", input: "   ", wantFormat: FormatUnknown, wantErr: true},
		{name: "garbage", input: "near the station", wantFormat: FormatUnknown, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, format, err := Parse(tt.input)
			if format != tt.wantFormat {
				t.Errorf("Parse(%q) format = %v, want %v", tt.input, format, tt.wantFormat)
			}
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) expected error, got %+v", tt.input, loc)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) unexpected error: %v", tt.input, err)
			}
			if math.Abs(loc.Latitude-tt.wantLat) > tolerance || math.Abs(loc.Longitude-tt.wantLon) > tolerance {
				t.Errorf("Parse(%q) = (%f, %f), want (%f, %f)", tt.input, loc.Latitude, loc.Longitude, tt.wantLat, tt.wantLon)
			}
		})
	}
}

func TestParseMGRS(t *testing.T) {
	loc, format, err := Parse("18SUJ23370651")
	if err != nil {
		t.Fatalf("Parse MGRS: %v", err)
	}
	if format != FormatMGRS {
		t.Errorf("format = %v, want mgrs", format)
	}
	// 18S UJ is the Washington DC grid square.
	if loc.Latitude < 38 || loc.Latitude > 40 || loc.Longitude < -78 || loc.Longitude > -76 {
		t.Errorf("MGRS position (%f, %f) outside the expected grid square", loc.Latitude, loc.Longitude)
	}
}

func TestFormatString(t *testing.T) {
	for f, want := range map[Format]string{
		FormatDecimal: "decimal",
		FormatDMS:     "dms",
		FormatMGRS:    "mgrs",
		FormatUnknown: "unknown",
	} {
		if got := f.String(); got != want {
			t.Errorf("Format(%d).String() = %q, want %q", f, got, want)
		}
	}
}
