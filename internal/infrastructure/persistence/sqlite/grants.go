package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/alem-hub/achievement-engine/internal/domain/achievement"
	"github.com/alem-hub/achievement-engine/internal/domain/points"
)

// EarnedIDs returns the achievement IDs already granted to the user.
func (s *Store) EarnedIDs(ctx context.Context, userID string) (map[string]struct{}, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT achievement_id FROM user_achievements WHERE user_id = ? AND is_completed = 1`, userID)
	if err != nil {
		return nil, fmt.Errorf("query grants: %w", err)
	}
	defer rows.Close()

	earned := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		earned[id] = struct{}{}
	}
	return earned, rows.Err()
}

// GrantWithPoints inserts the grant and credits its points in one transaction.
// A duplicate (user_id, achievement_id) insert affects no rows and is
// reported as granted=false.
func (s *Store) GrantWithPoints(
	ctx context.Context,
	grant achievement.Grant,
	entry points.LedgerEntry,
	delta points.SnapshotDelta,
) (bool, points.CreditResult, error) {
	var (
		granted bool
		res     points.CreditResult
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO user_achievements
				(id, user_id, achievement_id, course_id, enrollment_id, earned_at, is_completed, progress)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (user_id, achievement_id) DO NOTHING`,
			grant.ID, grant.UserID, grant.AchievementID, nullIfEmpty(grant.CourseID),
			nullIfEmpty(grant.EnrollmentID), toMillis(grant.EarnedAt), grant.IsCompleted, grant.Progress)
		if err != nil {
			return fmt.Errorf("insert grant: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("insert grant: %w", err)
		}
		if n == 0 {
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
func (s *Store) ListEarned(ctx context.Context, userID string) ([]achievement.EarnedAchievement, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT `+achievementColumns+`,
		       ua.id, ua.user_id, ua.achievement_id, COALESCE(ua.course_id, ''),
		       COALESCE(ua.enrollment_id, ''), ua.earned_at, ua.is_completed, ua.progress
		FROM user_achievements ua
		JOIN achievements a ON a.id = ua.achievement_id
		WHERE ua.user_id = ?
		ORDER BY ua.earned_at DESC, a.position`, userID)
	if err != nil {
		return nil, fmt.Errorf("list earned achievements: %w", err)
	}
	defer rows.Close()

	var list []achievement.EarnedAchievement
	for rows.Next() {
		var (
			e        achievement.EarnedAchievement
			earnedAt int64
		)
		a, err := scanAchievement(rows,
			&e.ID, &e.UserID, &e.AchievementID, &e.CourseID,
			&e.EnrollmentID, &earnedAt, &e.IsCompleted, &e.Progress)
		if err != nil {
			return nil, err
		}
		e.Achievement = a
		e.EarnedAt = fromMillis(earnedAt)
		list = append(list, e)
	}
	return list, rows.Err()
}
