package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/achievement-engine/internal/domain/achievement"
)

// CatalogRepository implements achievement.CatalogRepository for PostgreSQL.
type CatalogRepository struct {
	conn *Connection
}

// NewCatalogRepository creates a new CatalogRepository.
func NewCatalogRepository(conn *Connection) *CatalogRepository {
	return &CatalogRepository{conn: conn}
}

const achievementColumns = `
	a.id, a.title, a.description, a.category, a.points,
	a.requirement_type, a.requirement_value, COALESCE(a.course_id, ''),
	a.position, a.created_at`

// ListApplicable returns global achievements plus those scoped to courseID.
func (r *CatalogRepository) ListApplicable(ctx context.Context, courseID string) ([]achievement.Achievement, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	rows, err := r.conn.Pool().Query(ctx, `
		SELECT `+achievementColumns+`
		FROM achievements a
		WHERE a.course_id IS NULL OR ($1 <> '' AND a.course_id = $1)
		ORDER BY a.position
	`, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list achievements: %w", err)
	}
	return collectAchievements(rows)
}

// ListAll returns the whole catalog in insertion order.
func (r *CatalogRepository) ListAll(ctx context.Context) ([]achievement.Achievement, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	rows, err := r.conn.Pool().Query(ctx, `
		SELECT `+achievementColumns+`
		FROM achievements a
		ORDER BY a.position
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list achievements: %w", err)
	}
	return collectAchievements(rows)
}

func collectAchievements(rows pgx.Rows) ([]achievement.Achievement, error) {
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (achievement.Achievement, error) {
		return scanAchievement(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan achievements: %w", err)
	}
	return list, nil
}

// scanAchievement reads achievementColumns. Unknown requirement types are
// rejected so a bad catalog row fails loudly instead of never matching.
func scanAchievement(row pgx.Row, extra ...any) (achievement.Achievement, error) {
	var (
		a       achievement.Achievement
		cat     string
		reqType string
		pos     int64
	)
	dest := append([]any{
		&a.ID, &a.Title, &a.Description, &cat, &a.Points,
		&reqType, &a.RequirementValue, &a.CourseID,
		&pos, &a.CreatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return a, err
	}

	rt, err := achievement.ParseRequirementType(reqType)
	if err != nil {
		return a, fmt.Errorf("achievement %s: %w", a.ID, err)
	}
	a.Category = achievement.Category(cat)
	a.RequirementType = rt
	a.Position = int(pos)
	return a, nil
}
