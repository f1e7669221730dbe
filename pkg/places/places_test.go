package places

import (
	"encoding/json"
	"math"
	"reflect"
	"testing"

	"github.com/NERVsystems/pottypal/pkg/geo"
)

func place(uri, primaryType string) Place {
	return Place{
		DisplayName: &DisplayName{Text: uri},
		Location:    geo.Location{Latitude: 40, Longitude: -74},
		PrimaryType: primaryType,
		Restroom:    true,
		URI:         uri,
	}
}

func uris(list []Place) []string {
	out := make([]string, len(list))
	for i, p := range list {
		out[i] = p.URI
	}
	return out
}

func TestMergeUnique(t *testing.T) {
	a := []Place{place("u1", "cafe"), place("u2", "bar")}
	b := []Place{place("u2", "bar"), place("u3", "restaurant"), place("u3", "restaurant")}

	merged, added := MergeUnique(a, b)
	if added != 1 {
		t.Errorf("added = %d, want 1", added)
	}
	if got, want := uris(merged), []string{"u1", "u2", "u3"}; !reflect.DeepEqual(got, want) {
		t.Errorf("merged = %v, want %v", got, want)
	}
}

func TestMergeUniqueIdempotent(t *testing.T) {
	a := []Place{place("u1", "cafe"), place("u2", "bar")}
	b := []Place{place("u3", "restaurant"), place("u1", "cafe")}

	once, _ := MergeUnique(a, b)
	twice, added := MergeUnique(once, b)
	if added != 0 {
		t.Errorf("re-merging added %d places", added)
	}
	if !reflect.DeepEqual(uris(once), uris(twice)) {
		t.Errorf("merge not idempotent: %v vs %v", uris(once), uris(twice))
	}
}

func TestMergeUniqueKeepsURILessPlaces(t *testing.T) {
	noURI := place("", "public_bathroom")
	merged, added := MergeUnique([]Place{noURI}, []Place{noURI})
	if added != 1 || len(merged) != 2 {
		t.Fatalf("expected URI-less place to be appended, got added=%d len=%d", added, len(merged))
	}
	if merged[1].Key() == "" {
		t.Error("appended URI-less place has no local key")
	}
}

func TestPlaceKey(t *testing.T) {
	p := place("https://maps.google.com/?cid=1", "cafe")
	p.EnsureKey()
	if p.Key() != p.URI {
		t.Errorf("Key() = %q, want URI", p.Key())
	}

	q := place("", "cafe")
	if q.Key() != "" {
		t.Errorf("expected empty key before EnsureKey, got %q", q.Key())
	}
	q.EnsureKey()
	first := q.Key()
	q.EnsureKey()
	if first == "" || q.Key() != first {
		t.Errorf("local key not stable: %q then %q", first, q.Key())
	}
}

func TestHasRestroom(t *testing.T) {
	tests := []struct {
		name string
		p    Place
		want bool
	}{
		{"restroom flag", Place{Restroom: true, PrimaryType: "cafe"}, true},
		{"public bathroom type", Place{PrimaryType: PublicBathroomType}, true},
		{"neither", Place{PrimaryType: "bar"}, false},
		{"missing type", Place{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.HasRestroom(); got != tt.want {
				t.Errorf("HasRestroom() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPlaceJSONUsesUpstreamFieldNames(t *testing.T) {
	raw := `{
		"displayName": {"text": "Joe's", "languageCode": "en"},
		"location": {"latitude": 40.1, "longitude": -74.2},
		"primaryType": "cafe",
		"rating": 4.5,
		"userRatingCount": 12,
		"restroom": true,
		"currentOpeningHours": {"openNow": true, "weekdayDescriptions": ["Monday: Open 24 hours"]},
		"googleMapsUri": "https://maps.google.com/?cid=9",
		"googleMapsLinks": {"directionsUri": "https://dir"},
		"distanceInfo": {"walking": {"duration": "5 mins", "distance": "0.2 mi"}, "driving": {"duration": "2 mins", "distance": "0.3 mi"}}
	}`
	var p Place
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Name() != "Joe's" || p.URI != "https://maps.google.com/?cid=9" || !p.OpenNow() {
		t.Errorf("unexpected decode: %+v", p)
	}
	if p.DistanceInfo == nil || p.DistanceInfo.ForMode(Driving).Duration != "2 mins" {
		t.Errorf("distance info not decoded: %+v", p.DistanceInfo)
	}
	if p.Links == nil || p.Links.DirectionsURI != "https://dir" {
		t.Errorf("links not decoded: %+v", p.Links)
	}
}

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		primaryType string
		want        Category
		ok          bool
	}{
		{"fast_food_restaurant", CategoryRestaurant, true},
		{"coffee_shop", CategoryCafe, true},
		{"supermarket", CategoryGroceryStore, true},
		{"liquor_store", CategoryGroceryStore, true},
		{"public_bathroom", CategoryPublicBathroom, true},
		{"bar", CategoryBar, true},
		{"gas_station", CategoryPitStop, true},
		{"rest_stop", CategoryPitStop, true},
		{"sushi_restaurant", CategoryRestaurant, true},
		{"meal_takeaway", CategoryRestaurant, true},
		{"pub", CategoryRestaurant, true},
		{"bakery", CategoryCafe, true},
		{"Toilet", CategoryPublicBathroom, true},
		{"museum", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := CategoryOf(tt.primaryType)
		if got != tt.want || ok != tt.ok {
			t.Errorf("CategoryOf(%q) = (%q, %v), want (%q, %v)", tt.primaryType, got, ok, tt.want, tt.ok)
		}
	}
}

func TestEveryIncludedTypeHasCategory(t *testing.T) {
	for _, typ := range IncludedTypes {
		if _, ok := CategoryOf(typ); !ok {
			t.Errorf("included type %q has no category", typ)
		}
	}
}

func TestFiltersToggle(t *testing.T) {
	f := AllFilters()
	f.OpenNowOnly = true

	isolated := f.Toggle(CategoryCafe)
	for _, c := range Categories {
		if isolated.Enabled[c] != (c == CategoryCafe) {
			t.Errorf("after isolating cafe, %s enabled = %v", c, isolated.Enabled[c])
		}
	}
	if !isolated.OpenNowOnly {
		t.Error("Toggle dropped OpenNowOnly")
	}

	switched := isolated.Toggle(CategoryBar)
	if !switched.Enabled[CategoryBar] || switched.Enabled[CategoryCafe] {
		t.Errorf("expected bar isolated, got %v", switched.Enabled)
	}

	reset := switched.Toggle(CategoryBar)
	for _, c := range Categories {
		if !reset.Enabled[c] {
			t.Errorf("expected all categories after reset, %s disabled", c)
		}
	}
}

func TestApplyFilters(t *testing.T) {
	open := place("open", "cafe")
	open.OpeningHours = &OpeningHours{OpenNow: true}
	closed := place("closed", "cafe")
	closed.OpeningHours = &OpeningHours{OpenNow: false}
	bar := place("bar", "bar")
	unknown := place("unknown", "museum")
	list := []Place{open, closed, bar, unknown}

	if got := uris(Apply(list, AllFilters())); !reflect.DeepEqual(got, []string{"open", "closed", "bar"}) {
		t.Errorf("all filters = %v", got)
	}

	f := Only(CategoryCafe)
	f.OpenNowOnly = true
	if got := uris(Apply(list, f)); !reflect.DeepEqual(got, []string{"open"}) {
		t.Errorf("cafe open-now = %v", got)
	}
}

func withTravel(uri, walkDist, walkDur string, rating float64) Place {
	p := place(uri, "cafe")
	p.Rating = rating
	if walkDist != "" {
		p.DistanceInfo = &DistanceInfo{
			Walking: TravelInfo{Distance: walkDist, Duration: walkDur},
			Driving: UnavailableTravel,
		}
	}
	return p
}

func TestSortByDistance(t *testing.T) {
	list := []Place{
		withTravel("none", "", "", 5),
		withTravel("far", "1.2 mi", "25 mins", 3),
		withTravel("unavailable", Unavailable, Unavailable, 4),
		withTravel("near-slow", "500 ft", "4 mins", 2),
		withTravel("near-fast", "500 ft", "2 mins", 1),
		withTravel("mid", "0.3 mi", "7 mins", 4.8),
	}

	got := uris(Sort(list, SortDistance, Walking))
	want := []string{"near-fast", "near-slow", "mid", "far", "none", "unavailable"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("distance sort = %v, want %v", got, want)
	}
	if uris(list)[0] != "none" {
		t.Error("Sort modified its input")
	}
}

func TestSortByPopularity(t *testing.T) {
	list := []Place{
		withTravel("low", "", "", 2.5),
		withTravel("high", "", "", 4.9),
		withTravel("unrated", "", "", 0),
		withTravel("mid", "", "", 4.0),
	}
	got := uris(Sort(list, SortPopularity, Walking))
	want := []string{"high", "mid", "low", "unrated"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("popularity sort = %v, want %v", got, want)
	}
}

func TestParseDistanceMiles(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"0.4 mi", 0.4},
		{"5280 ft", 1},
		{"1,320 ft", 0.25},
		{"12 mi", 12},
		{"3", 3},
	}
	for _, tt := range tests {
		if got := ParseDistanceMiles(tt.in); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("ParseDistanceMiles(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	for _, bad := range []string{"", Unavailable} {
		if got := ParseDistanceMiles(bad); !math.IsNaN(got) {
			t.Errorf("ParseDistanceMiles(%q) = %v, want NaN", bad, got)
		}
	}
}

func TestParseDurationMinutes(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"12 mins", 12},
		{"1 min", 1},
		{"1 hour 5 mins", 65},
		{"2 hours", 120},
		{"45", 45},
	}
	for _, tt := range tests {
		if got := ParseDurationMinutes(tt.in); got != tt.want {
			t.Errorf("ParseDurationMinutes(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	for _, bad := range []string{"", Unavailable} {
		if got := ParseDurationMinutes(bad); !math.IsNaN(got) {
			t.Errorf("ParseDurationMinutes(%q) = %v, want NaN", bad, got)
		}
	}
}

func TestParseTravelMode(t *testing.T) {
	if m, ok := ParseTravelMode("driving"); !ok || m != Driving {
		t.Errorf("ParseTravelMode(driving) = %q, %v", m, ok)
	}
	if _, ok := ParseTravelMode("flying"); ok {
		t.Error("ParseTravelMode accepted flying")
	}
}
