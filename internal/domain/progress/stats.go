// Package progress models the learner statistics the grant evaluator reads
// and the enrollment records course progress views are composed from.
package progress

import (
	"context"
	"time"
)

// UserStats is the measurable state of a learner at one point in time.
type UserStats struct {
	UserID           string    `json:"user_id"`
	LessonsCompleted int       `json:"lessons_completed"`
	CoursesCompleted int       `json:"courses_completed"`
	AverageQuizScore float64   `json:"average_quiz_score"`
	StudyHours       float64   `json:"study_hours"`
	CurrentStreak    int       `json:"current_streak"`
	ComputedAt       time.Time `json:"computed_at"`
}

// QuizAggregate is the sum and count of a user's quiz scores.
type QuizAggregate struct {
	Count int
	Sum   float64
}

// Average returns the arithmetic mean, or 0 for a user without results.
func (q QuizAggregate) Average() float64 {
	if q.Count == 0 {
		return 0
	}
	return q.Sum / float64(q.Count)
}

// Reader aggregates raw progress records. All methods are read-only.
type Reader interface {
	// CountCompletedLessons counts lesson_progress rows with is_completed.
	CountCompletedLessons(ctx context.Context, userID string) (int, error)

	// CountCompletedCourses counts enrollments at 100% progress.
	CountCompletedCourses(ctx context.Context, userID string) (int, error)

	// QuizScores returns the aggregate of all quiz scores.
	QuizScores(ctx context.Context, userID string) (QuizAggregate, error)
}

// ActivitySource is the external activity log. Its signals are non-critical.
type ActivitySource interface {
	// StudyHours returns total logged study time in hours.
	StudyHours(ctx context.Context, userID string) (float64, error)

	// CurrentStreak returns the number of consecutive active days ending
	// today or yesterday.
	CurrentStreak(ctx context.Context, userID string, today time.Time) (int, error)
}
