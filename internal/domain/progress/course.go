package progress

import (
	"context"
)

// Enrollment is a learner's membership in a course as reported by the
// enrollment collaborator.
type Enrollment struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	CourseID    string `json:"course_id"`
	CourseTitle string `json:"course_title"`
	Progress    int    `json:"progress"` // 0-100, owned by the collaborator
	IsActive    bool   `json:"is_active"`
}

// IsCompleted reports whether the enrollment reached 100%.
func (e Enrollment) IsCompleted() bool {
	return e.Progress >= 100
}

// LessonCounts is the completed/total lesson count of one course for a user.
type LessonCounts struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// EnrollmentReader lists enrollments and per-course lesson counts.
type EnrollmentReader interface {
	// ListActiveEnrollments returns the user's active enrollments ordered by course.
	ListActiveEnrollments(ctx context.Context, userID string) ([]Enrollment, error)

	// LessonCountsByCourse returns counts keyed by course ID for the given courses.
	LessonCountsByCourse(ctx context.Context, userID string, courseIDs []string) (map[string]LessonCounts, error)
}
