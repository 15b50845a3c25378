package progress

import "time"

const dayLayout = "2006-01-02"

// Streak counts consecutive active days ending today, or ending yesterday
// when today has no activity yet. activeDays are calendar dates in any order;
// only their year, month and day are used.
func Streak(activeDays []time.Time, today time.Time) int {
	seen := make(map[string]struct{}, len(activeDays))
	for _, d := range activeDays {
		seen[d.Format(dayLayout)] = struct{}{}
	}

	day := time.Date(today.Year(), today.Month(), today.Day(), 12, 0, 0, 0, time.UTC)
	if _, ok := seen[day.Format(dayLayout)]; !ok {
		day = day.AddDate(0, 0, -1)
	}

	streak := 0
	for {
		if _, ok := seen[day.Format(dayLayout)]; !ok {
			return streak
		}
		streak++
		day = day.AddDate(0, 0, -1)
	}
}
