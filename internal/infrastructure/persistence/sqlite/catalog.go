package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/alem-hub/achievement-engine/internal/domain/achievement"
)

const achievementColumns = `
	a.id, a.title, a.description, a.category, a.points,
	a.requirement_type, a.requirement_value, COALESCE(a.course_id, ''),
	a.position, a.created_at`

// ListApplicable returns global achievements plus those scoped to courseID.
func (s *Store) ListApplicable(ctx context.Context, courseID string) ([]achievement.Achievement, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT `+achievementColumns+`
		FROM achievements a
		WHERE a.course_id IS NULL OR (?1 <> '' AND a.course_id = ?1)
		ORDER BY a.position`, courseID)
	if err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}
	return collectAchievements(rows)
}

// ListAll returns the whole catalog in insertion order.
func (s *Store) ListAll(ctx context.Context) ([]achievement.Achievement, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT `+achievementColumns+`
		FROM achievements a
		ORDER BY a.position`)
	if err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}
	return collectAchievements(rows)
}

func collectAchievements(rows *sql.Rows) ([]achievement.Achievement, error) {
	defer rows.Close()

	var list []achievement.Achievement
	for rows.Next() {
		a, err := scanAchievement(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate achievements: %w", err)
	}
	return list, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAchievement(row scanner, extra ...any) (achievement.Achievement, error) {
	var (
		a         achievement.Achievement
		cat       string
		reqType   string
		createdAt int64
	)
	dest := append([]any{
		&a.ID, &a.Title, &a.Description, &cat, &a.Points,
		&reqType, &a.RequirementValue, &a.CourseID,
		&a.Position, &createdAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return a, fmt.Errorf("scan achievement: %w", err)
	}

	rt, err := achievement.ParseRequirementType(reqType)
	if err != nil {
		return a, fmt.Errorf("achievement %s: %w", a.ID, err)
	}
	a.Category = achievement.Category(cat)
	a.RequirementType = rt
	a.CreatedAt = fromMillis(createdAt)
	return a, nil
}
