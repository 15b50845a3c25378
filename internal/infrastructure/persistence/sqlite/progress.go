package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alem-hub/achievement-engine/internal/domain/progress"
)

// CountCompletedLessons counts the user's completed lesson_progress rows.
func (s *Store) CountCompletedLessons(ctx context.Context, userID string) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM lesson_progress WHERE user_id = ? AND is_completed = 1`, userID)
}

// CountCompletedCourses counts the user's enrollments at 100%.
func (s *Store) CountCompletedCourses(ctx context.Context, userID string) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM enrollments WHERE user_id = ? AND progress = 100`, userID)
}

func (s *Store) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := s.sqlDB.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// QuizScores returns the count and sum of the user's quiz scores.
func (s *Store) QuizScores(ctx context.Context, userID string) (progress.QuizAggregate, error) {
	var q progress.QuizAggregate
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(score), 0.0) FROM quiz_results WHERE user_id = ?`, userID,
	).Scan(&q.Count, &q.Sum)
	if err != nil {
		return q, fmt.Errorf("aggregate quiz scores: %w", err)
	}
	return q, nil
}

// ListActiveEnrollments returns the user's active enrollments.
func (s *Store) ListActiveEnrollments(ctx context.Context, userID string) ([]progress.Enrollment, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT id, user_id, course_id, course_title, progress, is_active
		FROM enrollments
		WHERE user_id = ? AND is_active = 1
		ORDER BY course_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	defer rows.Close()

	var list []progress.Enrollment
	for rows.Next() {
		var e progress.Enrollment
		if err := rows.Scan(&e.ID, &e.UserID, &e.CourseID, &e.CourseTitle, &e.Progress, &e.IsActive); err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

// LessonCountsByCourse returns completed/total lesson counts per course.
func (s *Store) LessonCountsByCourse(ctx context.Context, userID string, courseIDs []string) (map[string]progress.LessonCounts, error) {
	out := make(map[string]progress.LessonCounts, len(courseIDs))
	if len(courseIDs) == 0 {
		return out, nil
	}

	args := make([]any, 0, len(courseIDs)+1)
	args = append(args, userID)
	for _, id := range courseIDs {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(courseIDs)), ",")

	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT l.course_id,
		       COALESCE(SUM(CASE WHEN lp.is_completed = 1 THEN 1 ELSE 0 END), 0),
		       COUNT(*)
		FROM lessons l
		LEFT JOIN lesson_progress lp ON lp.lesson_id = l.id AND lp.user_id = ?
		WHERE l.course_id IN (`+placeholders+`)
		GROUP BY l.course_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("count lessons: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			courseID string
			c        progress.LessonCounts
		)
		if err := rows.Scan(&courseID, &c.Completed, &c.Total); err != nil {
			return nil, fmt.Errorf("scan lesson counts: %w", err)
		}
		out[courseID] = c
	}
	return out, rows.Err()
}

// StudyHours returns the total logged study time in hours.
func (s *Store) StudyHours(ctx context.Context, userID string) (float64, error) {
	var minutes int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(minutes), 0) FROM activity_log WHERE user_id = ?`, userID,
	).Scan(&minutes)
	if err != nil {
		return 0, fmt.Errorf("sum study minutes: %w", err)
	}
	return float64(minutes) / 60, nil
}

// CurrentStreak returns consecutive active days ending today or yesterday.
func (s *Store) CurrentStreak(ctx context.Context, userID string, today time.Time) (int, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT activity_date FROM activity_log
		WHERE user_id = ? AND minutes > 0 AND activity_date <= ?
		ORDER BY activity_date DESC
		LIMIT 366`, userID, today.Format("2006-01-02"))
	if err != nil {
		return 0, fmt.Errorf("query activity days: %w", err)
	}
	defer rows.Close()

	var days []time.Time
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return 0, fmt.Errorf("scan activity day: %w", err)
		}
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return 0, fmt.Errorf("parse activity day %q: %w", raw, err)
		}
		days = append(days, d)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	return progress.Streak(days, today), nil
}
