// Package leaderboard contains the ranking model: period windows over the
// point ledger and the deterministic ordering of ranked rows.
package leaderboard

import (
	"fmt"
	"sort"
	"time"

	"github.com/alem-hub/achievement-engine/internal/domain/shared"
	"github.com/alem-hub/achievement-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// PERIOD
// ══════════════════════════════════════════════════════════════════════════════

// PeriodType is the time window a leaderboard sums points over.
type PeriodType string

const (
	PeriodDaily   PeriodType = "daily"
	PeriodWeekly  PeriodType = "weekly"
	PeriodMonthly PeriodType = "monthly"
	PeriodAllTime PeriodType = "all_time"
)

// Periods lists every period type in materialization order.
func Periods() []PeriodType {
	return []PeriodType{PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodAllTime}
}

// IsValid reports whether p is a known period.
func (p PeriodType) IsValid() bool {
	switch p {
	case PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodAllTime:
		return true
	}
	return false
}

// ParsePeriod converts user input into a PeriodType.
func ParsePeriod(s string) (PeriodType, error) {
	p := PeriodType(s)
	if !p.IsValid() {
		return "", shared.ErrInvalidPeriod.Wrap(fmt.Errorf("%q", s))
	}
	return p, nil
}

// AllTimeAnchor is the period_date stored for all_time boards.
const AllTimeAnchor = "all"

// Window is the half-open interval [Start, End) of ledger timestamps summed
// for a period. A zero Start means the whole ledger.
type Window struct {
	Period PeriodType
	Start  time.Time
	End    time.Time
	Anchor string
}

// Bounded reports whether the window restricts ledger timestamps.
func (w Window) Bounded() bool {
	return !w.Start.IsZero()
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if !w.Bounded() {
		return true
	}
	return !t.Before(w.Start) && t.Before(w.End)
}

// WindowFor returns the window of period ending at now.
func WindowFor(cal timeutil.Calendar, period PeriodType, now time.Time) (Window, error) {
	w := Window{Period: period, End: now}
	switch period {
	case PeriodDaily:
		w.Start = cal.StartOfDay(now)
	case PeriodWeekly:
		w.Start = cal.StartOfWeek(now)
	case PeriodMonthly:
		w.Start = cal.StartOfMonth(now)
	case PeriodAllTime:
		w.Anchor = AllTimeAnchor
		return w, nil
	default:
		return Window{}, shared.ErrInvalidPeriod.Wrap(fmt.Errorf("%q", period))
	}
	w.Anchor = cal.FormatDate(w.Start)
	return w, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RANKING
// ══════════════════════════════════════════════════════════════════════════════

// Row is one user's aggregate inside a window.
type Row struct {
	UserID string
	Points int
	// LastAt is the timestamp of the user's latest ledger entry in the window.
	LastAt time.Time
}

// Entry is a ranked leaderboard row. Rank starts at 1.
type Entry struct {
	Rank       int        `json:"rank"`
	UserID     string     `json:"user_id"`
	Points     int        `json:"points"`
	PeriodType PeriodType `json:"period_type"`
	PeriodDate string     `json:"period_date"`
	LastAt     time.Time  `json:"last_at"`
}

// Less orders rows by points descending, then by whoever reached their total
// first, then by user ID so the order is total.
func Less(a, b Row) bool {
	if a.Points != b.Points {
		return a.Points > b.Points
	}
	if !a.LastAt.Equal(b.LastAt) {
		return a.LastAt.Before(b.LastAt)
	}
	return a.UserID < b.UserID
}

// Rank sorts rows and assigns consecutive ranks. The input is not modified.
func Rank(w Window, rows []Row, limit int) []Entry {
	sorted := make([]Row, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool { return Less(sorted[i], sorted[j]) })

	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}

	entries := make([]Entry, len(sorted))
	for i, r := range sorted {
		entries[i] = Entry{
			Rank:       i + 1,
			UserID:     r.UserID,
			Points:     r.Points,
			PeriodType: w.Period,
			PeriodDate: w.Anchor,
			LastAt:     r.LastAt,
		}
	}
	return entries
}

// ══════════════════════════════════════════════════════════════════════════════
// LIMIT
// ══════════════════════════════════════════════════════════════════════════════

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// NormalizeLimit applies the default for non-positive values and clamps to MaxLimit.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
