package achievement

import "github.com/alem-hub/achievement-engine/internal/domain/progress"

// Matcher extracts the statistic a requirement type is compared against.
type Matcher func(stats progress.UserStats) float64

// matchers is the closed dispatch table for requirement types. Adding a
// RequirementType without an entry here makes ParseRequirementType reject it.
var matchers = map[RequirementType]Matcher{
	RequirementLessonsCompleted: func(s progress.UserStats) float64 { return float64(s.LessonsCompleted) },
	RequirementCoursesCompleted: func(s progress.UserStats) float64 { return float64(s.CoursesCompleted) },
	RequirementStudyHours:       func(s progress.UserStats) float64 { return s.StudyHours },
	RequirementQuizScore:        func(s progress.UserStats) float64 { return s.AverageQuizScore },
	RequirementStudyStreak:      func(s progress.UserStats) float64 { return float64(s.CurrentStreak) },
}

// RequirementTypes returns every supported requirement type.
func RequirementTypes() []RequirementType {
	return []RequirementType{
		RequirementLessonsCompleted,
		RequirementCoursesCompleted,
		RequirementStudyHours,
		RequirementQuizScore,
		RequirementStudyStreak,
	}
}

// Unearned filters candidates down to those not present in earned,
// preserving order.
func Unearned(candidates []Achievement, earned map[string]struct{}) []Achievement {
	out := make([]Achievement, 0, len(candidates))
	for _, a := range candidates {
		if _, ok := earned[a.ID]; ok {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Satisfied returns the unearned candidates whose predicate holds for stats,
// in evaluation order.
func Satisfied(candidates []Achievement, earned map[string]struct{}, stats progress.UserStats) []Achievement {
	var out []Achievement
	for _, a := range Unearned(candidates, earned) {
		if a.IsSatisfiedBy(stats) {
			out = append(out, a)
		}
	}
	return out
}

// Next picks the display hint for the next achievement to chase: the
// unearned candidate with the fewest points. Ties keep catalog insertion
// order. Returns nil when everything applicable is earned.
func Next(candidates []Achievement, earned map[string]struct{}) *Achievement {
	var next *Achievement
	for _, a := range Unearned(candidates, earned) {
		if next == nil || a.Points < next.Points ||
			(a.Points == next.Points && a.Position < next.Position) {
			a := a
			next = &a
		}
	}
	return next
}
