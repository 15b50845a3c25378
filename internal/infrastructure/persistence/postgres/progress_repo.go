package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/achievement-engine/internal/domain/progress"
)

// ProgressRepository reads lesson, enrollment and quiz records.
// It implements progress.Reader and progress.EnrollmentReader.
type ProgressRepository struct {
	conn *Connection
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(conn *Connection) *ProgressRepository {
	return &ProgressRepository{conn: conn}
}

// CountCompletedLessons counts the user's completed lesson_progress rows.
func (r *ProgressRepository) CountCompletedLessons(ctx context.Context, userID string) (int, error) {
	return r.count(ctx,
		`SELECT COUNT(*) FROM lesson_progress WHERE user_id = $1 AND is_completed`, userID)
}

// CountCompletedCourses counts the user's enrollments at 100%.
func (r *ProgressRepository) CountCompletedCourses(ctx context.Context, userID string) (int, error) {
	return r.count(ctx,
		`SELECT COUNT(*) FROM enrollments WHERE user_id = $1 AND progress = 100`, userID)
}

func (r *ProgressRepository) count(ctx context.Context, sql string, args ...any) (int, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	var n int
	if err := r.conn.Pool().QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count: %w", err)
	}
	return n, nil
}

// QuizScores returns the count and sum of the user's quiz scores.
func (r *ProgressRepository) QuizScores(ctx context.Context, userID string) (progress.QuizAggregate, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	var q progress.QuizAggregate
	err := r.conn.Pool().QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(score), 0) FROM quiz_results WHERE user_id = $1`,
		userID,
	).Scan(&q.Count, &q.Sum)
	if err != nil {
		return q, fmt.Errorf("failed to aggregate quiz scores: %w", err)
	}
	return q, nil
}

// ListActiveEnrollments returns the user's active enrollments.
func (r *ProgressRepository) ListActiveEnrollments(ctx context.Context, userID string) ([]progress.Enrollment, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	rows, err := r.conn.Pool().Query(ctx, `
		SELECT id, user_id, course_id, course_title, progress, is_active
		FROM enrollments
		WHERE user_id = $1 AND is_active
		ORDER BY course_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (progress.Enrollment, error) {
		var e progress.Enrollment
		err := row.Scan(&e.ID, &e.UserID, &e.CourseID, &e.CourseTitle, &e.Progress, &e.IsActive)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan enrollments: %w", err)
	}
	return list, nil
}

// LessonCountsByCourse returns completed/total lesson counts in one set-based query.
func (r *ProgressRepository) LessonCountsByCourse(ctx context.Context, userID string, courseIDs []string) (map[string]progress.LessonCounts, error) {
	out := make(map[string]progress.LessonCounts, len(courseIDs))
	if len(courseIDs) == 0 {
		return out, nil
	}

	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	rows, err := r.conn.Pool().Query(ctx, `
		SELECT l.course_id,
		       COUNT(lp.lesson_id) FILTER (WHERE lp.is_completed),
		       COUNT(*)
		FROM lessons l
		LEFT JOIN lesson_progress lp ON lp.lesson_id = l.id AND lp.user_id = $1
		WHERE l.course_id = ANY($2)
		GROUP BY l.course_id
	`, userID, courseIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to count lessons: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			courseID string
			c        progress.LessonCounts
		)
		if err := rows.Scan(&courseID, &c.Completed, &c.Total); err != nil {
			return nil, fmt.Errorf("failed to scan lesson counts: %w", err)
		}
		out[courseID] = c
	}
	return out, rows.Err()
}
