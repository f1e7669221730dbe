// Package hours re-derives whether a place should be open right now from
// its published weekday descriptions, so cached "open now" flags that
// have silently gone stale can be detected.
package hours

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/NERVsystems/pottypal/pkg/places"
)

const (
	closedText  = "Closed"
	open24hText = "Open 24 hours"
)

// Upstream descriptions use narrow and thin no-break spaces around the
// dash and before AM/PM.
var spaceReplacer = strings.NewReplacer("\u202f", " ", "\u2009", " ", "\u00a0", " ")

var rangePattern = regexp.MustCompile(`(?i)^(\d{1,2}):(\d{2})\s*([AP]M)\s*[\x{2013}\x{2014}-]\s*(\d{1,2}):(\d{2})\s*([AP]M)$`)

// Validator checks cached place batches against the current time.
type Validator struct {
	now    func() time.Time
	logger *slog.Logger
}

// NewValidator returns a validator reading the local wall clock.
func NewValidator() *Validator {
	return &Validator{
		now:    time.Now,
		logger: slog.Default().With("component", "hours"),
	}
}

// SetClock overrides the clock, mainly for tests.
func (v *Validator) SetClock(now func() time.Time) {
	v.now = now
}

// SetLogger sets the logger for the validator.
func (v *Validator) SetLogger(logger *slog.Logger) {
	v.logger = logger
}

// Valid reports whether every place's stored open flag agrees with its
// published hours. It stops at the first disagreement: one stale flag
// invalidates the whole batch. Places without hours, or whose line for
// today cannot be parsed, are skipped.
func (v *Validator) Valid(list []places.Place) bool {
	now := v.now()
	for i, p := range list {
		if p.OpeningHours == nil || len(p.OpeningHours.WeekdayDescriptions) == 0 {
			continue
		}
		expected, known := ExpectedOpen(p.OpeningHours.WeekdayDescriptions, now)
		if !known {
			continue
		}
		if expected != p.OpeningHours.OpenNow {
			v.logger.Debug("stale open flag",
				"index", i,
				"place", p.Name(),
				"stored_open", p.OpeningHours.OpenNow,
				"expected_open", expected)
			return false
		}
	}
	return true
}

// ExpectedOpen computes the open state at now from weekday descriptions
// such as "Tuesday: 9:00 AM – 10:00 PM". known is false when there is no
// line for today or it cannot be parsed.
func ExpectedOpen(descriptions []string, now time.Time) (open, known bool) {
	hours, ok := lineFor(descriptions, now.Weekday())
	if !ok {
		return false, false
	}

	switch {
	case strings.EqualFold(hours, closedText):
		return false, true
	case strings.EqualFold(hours, open24hText):
		return true, true
	}

	start, end, ok := parseRange(hours)
	if !ok {
		return false, false
	}

	current := now.Hour()*60 + now.Minute()
	if end < start {
		return current >= start || current <= end, true
	}
	return current >= start && current <= end, true
}

// lineFor returns the hours part of the line for day, e.g. "Closed".
func lineFor(descriptions []string, day time.Weekday) (string, bool) {
	prefix := day.String() + ":"
	for _, line := range descriptions {
		line = strings.TrimSpace(spaceReplacer.Replace(line))
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix)), true
		}
	}
	return "", false
}

func parseRange(s string) (start, end int, ok bool) {
	m := rangePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, false
	}
	start, ok = clockMinutes(m[1], m[2], m[3])
	if !ok {
		return 0, 0, false
	}
	end, ok = clockMinutes(m[4], m[5], m[6])
	if !ok {
		return 0, 0, false
	}
	return start, end, true
}

// clockMinutes converts a 12-hour clock time to minutes since midnight.
func clockMinutes(hour, minute, meridiem string) (int, bool) {
	h, err := strconv.Atoi(hour)
	if err != nil || h < 1 || h > 12 {
		return 0, false
	}
	m, err := strconv.Atoi(minute)
	if err != nil || m > 59 {
		return 0, false
	}
	h %= 12
	if strings.EqualFold(meridiem, "PM") {
		h += 12
	}
	return h*60 + m, true
}
