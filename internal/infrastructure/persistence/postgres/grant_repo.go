package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/achievement-engine/internal/domain/achievement"
	"github.com/alem-hub/achievement-engine/internal/domain/points"
)

// GrantRepository implements achievement.GrantRepository for PostgreSQL.
type GrantRepository struct {
	conn *Connection
}

// NewGrantRepository creates a new GrantRepository.
func NewGrantRepository(conn *Connection) *GrantRepository {
	return &GrantRepository{conn: conn}
}

// EarnedIDs returns the achievement IDs already granted to the user.
func (r *GrantRepository) EarnedIDs(ctx context.Context, userID string) (map[string]struct{}, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	rows, err := r.conn.Pool().Query(ctx,
		`SELECT achievement_id FROM user_achievements WHERE user_id = $1 AND is_completed`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query grants: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan grants: %w", err)
	}

	earned := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		earned[id] = struct{}{}
	}
	return earned, nil
}

// GrantWithPoints inserts the grant and credits its points in one transaction.
// The unique (user_id, achievement_id) constraint turns a racing duplicate
// into a zero-row insert, which is reported as granted=false.
func (r *GrantRepository) GrantWithPoints(
	ctx context.Context,
	grant achievement.Grant,
	entry points.LedgerEntry,
	delta points.SnapshotDelta,
) (bool, points.CreditResult, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	var (
		granted bool
		res     points.CreditResult
	)
	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO user_achievements
				(id, user_id, achievement_id, course_id, enrollment_id, earned_at, is_completed, progress)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (user_id, achievement_id) DO NOTHING
		`, grant.ID, grant.UserID, grant.AchievementID, nullIfEmpty(grant.CourseID),
			nullIfEmpty(grant.EnrollmentID), grant.EarnedAt, grant.IsCompleted, grant.Progress)
		if err != nil {
			return fmt.Errorf("failed to insert grant: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		granted = true

		res, err = creditTx(ctx, tx, entry, delta)
		return err
	})
	if err != nil {
		return false, points.CreditResult{}, err
	}
	return granted, res, nil
}

// ListEarned returns the user's grants with catalog metadata, newest first.
func (r *GrantRepository) ListEarned(ctx context.Context, userID string) ([]achievement.EarnedAchievement, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	rows, err := r.conn.Pool().Query(ctx, `
		SELECT `+achievementColumns+`,
		       ua.id, ua.user_id, ua.achievement_id, COALESCE(ua.course_id, ''),
		       COALESCE(ua.enrollment_id, ''), ua.earned_at, ua.is_completed, ua.progress
		FROM user_achievements ua
		JOIN achievements a ON a.id = ua.achievement_id
		WHERE ua.user_id = $1
		ORDER BY ua.earned_at DESC, a.position
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list earned achievements: %w", err)
	}

	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (achievement.EarnedAchievement, error) {
		var e achievement.EarnedAchievement
		a, err := scanAchievement(row,
			&e.ID, &e.UserID, &e.AchievementID, &e.CourseID,
			&e.EnrollmentID, &e.EarnedAt, &e.IsCompleted, &e.Progress)
		e.Achievement = a
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan earned achievements: %w", err)
	}
	return list, nil
}
