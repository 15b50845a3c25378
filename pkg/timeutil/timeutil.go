// Package timeutil provides calendar window helpers in a configured location.
// Leaderboard windows are computed in the product timezone, not in UTC, so a
// "day" matches what learners see on their clocks.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// DefaultLocation is used when no location is configured.
// Kazakhstan abolished DST, so a fixed zone is exact year-round.
var DefaultLocation = time.FixedZone("Asia/Almaty", 5*60*60)

// Calendar computes period boundaries in a fixed location with a
// configurable first day of the week.
type Calendar struct {
	loc       *time.Location
	weekStart time.Weekday
}

// NewCalendar creates a Calendar. A nil loc falls back to DefaultLocation.
func NewCalendar(loc *time.Location, weekStart time.Weekday) Calendar {
	if loc == nil {
		loc = DefaultLocation
	}
	return Calendar{loc: loc, weekStart: weekStart}
}

// LoadCalendar resolves an IANA zone name. An empty name uses DefaultLocation.
func LoadCalendar(zone string, weekStart time.Weekday) (Calendar, error) {
	if zone == "" {
		return NewCalendar(nil, weekStart), nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return Calendar{}, fmt.Errorf("load location %q: %w", zone, err)
	}
	return NewCalendar(loc, weekStart), nil
}

// Location returns the calendar's location.
func (c Calendar) Location() *time.Location {
	if c.loc == nil {
		return DefaultLocation
	}
	return c.loc
}

// WeekStart returns the configured first day of the week.
func (c Calendar) WeekStart() time.Weekday {
	return c.weekStart
}

// In converts t into the calendar's location.
func (c Calendar) In(t time.Time) time.Time {
	return t.In(c.Location())
}

// StartOfDay returns local midnight of t's day.
func (c Calendar) StartOfDay(t time.Time) time.Time {
	l := c.In(t)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, c.Location())
}

// StartOfWeek returns local midnight of the most recent week start on or before t.
func (c Calendar) StartOfWeek(t time.Time) time.Time {
	l := c.In(t)
	back := (int(l.Weekday()) - int(c.weekStart) + 7) % 7
	return c.StartOfDay(time.Date(l.Year(), l.Month(), l.Day()-back, 12, 0, 0, 0, c.Location()))
}

// StartOfMonth returns local midnight of the first day of t's month.
func (c Calendar) StartOfMonth(t time.Time) time.Time {
	l := c.In(t)
	return time.Date(l.Year(), l.Month(), 1, 0, 0, 0, 0, c.Location())
}

// FormatDate formats t as YYYY-MM-DD in the calendar's location.
func (c Calendar) FormatDate(t time.Time) string {
	return c.In(t).Format(DateLayout)
}

// DateLayout is the layout used for period anchors.
const DateLayout = "2006-01-02"

// ParseWeekday parses an English weekday name ("monday", "Sun", ...).
func ParseWeekday(s string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := d.String()
		if strings.EqualFold(s, name) || strings.EqualFold(s, name[:3]) {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("unknown weekday %q", s)
}
