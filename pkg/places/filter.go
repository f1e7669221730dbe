package places

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Filters is the category chip state plus the open-now switch.
type Filters struct {
	Enabled     map[Category]bool
	OpenNowOnly bool
}

// AllFilters returns filters with every category enabled.
func AllFilters() Filters {
	f := Filters{Enabled: make(map[Category]bool, len(Categories))}
	for _, c := range Categories {
		f.Enabled[c] = true
	}
	return f
}

// Only returns filters with a single category enabled.
func Only(c Category) Filters {
	f := Filters{Enabled: make(map[Category]bool, len(Categories))}
	for _, other := range Categories {
		f.Enabled[other] = other == c
	}
	return f
}

func (f Filters) activeCount() int {
	n := 0
	for _, c := range Categories {
		if f.Enabled[c] {
			n++
		}
	}
	return n
}

// Toggle applies a chip tap: tapping the only active category switches
// every category back on, any other tap isolates the tapped category.
// OpenNowOnly is preserved.
func (f Filters) Toggle(c Category) Filters {
	var next Filters
	if f.Enabled[c] && f.activeCount() == 1 {
		next = AllFilters()
	} else {
		next = Only(c)
	}
	next.OpenNowOnly = f.OpenNowOnly
	return next
}

// Allows reports whether a place passes the filters. Places whose type
// maps to no category are never shown.
func (f Filters) Allows(p Place) bool {
	c, ok := CategoryOf(p.PrimaryType)
	if !ok || !f.Enabled[c] {
		return false
	}
	return !f.OpenNowOnly || p.OpenNow()
}

// Apply returns the places that pass the filters, in order.
func Apply(list []Place, f Filters) []Place {
	out := make([]Place, 0, len(list))
	for _, p := range list {
		if f.Allows(p) {
			out = append(out, p)
		}
	}
	return out
}

// SortOrder selects the list ordering.
type SortOrder string

const (
	SortDistance   SortOrder = "distance"
	SortPopularity SortOrder = "popularity"
)

// Sort returns a sorted copy of list. Distance order compares the travel
// estimate for mode, breaking ties on duration; places without a
// parseable estimate go last. Popularity order is rating, high to low.
func Sort(list []Place, order SortOrder, mode TravelMode) []Place {
	out := make([]Place, len(list))
	copy(out, list)

	if order == SortPopularity {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].Rating > out[j].Rating
		})
		return out
	}

	type keyed struct {
		place          Place
		miles, minutes float64
	}
	ks := make([]keyed, len(out))
	for i, p := range out {
		ks[i] = keyed{place: p, miles: math.NaN(), minutes: math.NaN()}
		if p.DistanceInfo != nil {
			t := p.DistanceInfo.ForMode(mode)
			ks[i].miles = ParseDistanceMiles(t.Distance)
			ks[i].minutes = ParseDurationMinutes(t.Duration)
		}
	}

	sort.SliceStable(ks, func(a, b int) bool {
		if less, decided := compareNaNLast(ks[a].miles, ks[b].miles); decided {
			return less
		}
		less, _ := compareNaNLast(ks[a].minutes, ks[b].minutes)
		return less
	})

	for i := range ks {
		out[i] = ks[i].place
	}
	return out
}

// compareNaNLast orders a before b, with NaN after every number. decided
// is false when the two values are equal (or both NaN).
func compareNaNLast(a, b float64) (less, decided bool) {
	aNaN, bNaN := math.IsNaN(a), math.IsNaN(b)
	switch {
	case aNaN && bNaN:
		return false, false
	case aNaN:
		return false, true
	case bNaN:
		return true, true
	case a == b:
		return false, false
	}
	return a < b, true
}

// ParseDistanceMiles converts labels such as "0.4 mi" or "850 ft" to
// miles. It returns NaN when the label carries no number.
func ParseDistanceMiles(label string) float64 {
	fields := strings.Fields(label)
	if len(fields) == 0 {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(fields[0], ",", ""), 64)
	if err != nil {
		return math.NaN()
	}
	if len(fields) > 1 && strings.HasPrefix(fields[1], "ft") {
		return v / 5280
	}
	return v
}

var (
	hourPattern   = regexp.MustCompile(`(\d+)\s*hour`)
	minutePattern = regexp.MustCompile(`(\d+)\s*min`)
	leadingNumber = regexp.MustCompile(`^\s*(\d+)`)
)

// ParseDurationMinutes converts labels such as "12 mins" or
// "1 hour 5 mins" to minutes. It returns NaN when nothing parses.
func ParseDurationMinutes(label string) float64 {
	lower := strings.ToLower(label)
	h := hourPattern.FindStringSubmatch(lower)
	m := minutePattern.FindStringSubmatch(lower)

	if h == nil && m == nil {
		if n := leadingNumber.FindStringSubmatch(lower); n != nil {
			v, _ := strconv.Atoi(n[1])
			return float64(v)
		}
		return math.NaN()
	}

	total := 0
	if h != nil {
		v, _ := strconv.Atoi(h[1])
		total += v * 60
	}
	if m != nil {
		v, _ := strconv.Atoi(m[1])
		total += v
	}
	return float64(total)
}
