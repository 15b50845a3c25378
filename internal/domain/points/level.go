// Package points contains the point ledger and the level staircase.
//
// The ledger is the append-only source of truth for a user's points; the
// per-user Snapshot is a materialized view that can always be rebuilt by
// summing the ledger.
package points

import (
	"fmt"
	"strings"
)

// MinLevel is the level of a user with no points.
const MinLevel = 1

// levelThresholds[i] is the cumulative total at which level i+2 starts.
// Totals below the first threshold are level 1; totals at or above the last
// are the top level.
var levelThresholds = [...]int{100, 250, 500, 1000, 2000, 5000, 10000}

// MaxLevel is the highest reachable level.
const MaxLevel = len(levelThresholds) + 1

// LevelFor returns the level for a cumulative point total.
// Thresholds are evaluated least-first, so the result is monotonic in total.
func LevelFor(total int) int {
	for i, threshold := range levelThresholds {
		if total < threshold {
			return MinLevel + i
		}
	}
	return MaxLevel
}

// LevelProgress describes how far a user is into their current level.
type LevelProgress struct {
	Level         int  `json:"level"`
	Total         int  `json:"total_points"`
	NextThreshold int  `json:"next_threshold,omitempty"`
	PointsToNext  int  `json:"points_to_next,omitempty"`
	IsMaxLevel    bool `json:"is_max_level"`
}

// Progress returns the level progress for a cumulative total.
func Progress(total int) LevelProgress {
	level := LevelFor(total)
	p := LevelProgress{Level: level, Total: total}
	if level == MaxLevel {
		p.IsMaxLevel = true
		return p
	}
	p.NextThreshold = levelThresholds[level-MinLevel]
	p.PointsToNext = p.NextThreshold - total
	return p
}

// LevelCaseSQL renders the staircase as a SQL CASE expression over expr so
// stores can recompute the level in the same statement that changes the total.
// The output only contains integer literals and expr.
func LevelCaseSQL(expr string) string {
	var b strings.Builder
	b.WriteString("CASE")
	for i, threshold := range levelThresholds {
		fmt.Fprintf(&b, " WHEN %s < %d THEN %d", expr, threshold, MinLevel+i)
	}
	fmt.Fprintf(&b, " ELSE %d END", MaxLevel)
	return b.String()
}
