package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alem-hub/achievement-engine/internal/domain/points"
	"github.com/alem-hub/achievement-engine/internal/domain/shared"
)

// Credit appends entry and applies delta in one transaction.
func (s *Store) Credit(ctx context.Context, entry points.LedgerEntry, delta points.SnapshotDelta) (points.CreditResult, error) {
	var res points.CreditResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		res, err = creditTx(ctx, tx, entry, delta)
		return err
	})
	return res, err
}

// SumByUser returns the sum of every ledger entry of the user.
func (s *Store) SumByUser(ctx context.Context, userID string) (int, error) {
	var total int
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(points), 0) FROM points_ledger WHERE user_id = ?`, userID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum ledger: %w", err)
	}
	return total, nil
}

// ListUsers returns every user with ledger entries or a snapshot.
func (s *Store) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT user_id FROM points_ledger
		UNION
		SELECT user_id FROM user_points
		ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

const snapshotColumns = `user_id, total_points, current_level, courses_completed,
	lessons_completed, achievements_earned, current_streak, updated_at`

// Get returns the user's snapshot.
func (s *Store) Get(ctx context.Context, userID string) (*points.Snapshot, error) {
	snap, err := scanSnapshot(s.sqlDB.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM user_points WHERE user_id = ?`, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return snap, nil
}

// Reconcile recomputes the snapshot from the ledger. The IMMEDIATE write
// transaction excludes concurrent credits for its duration.
func (s *Store) Reconcile(ctx context.Context, userID string, at time.Time) (*points.Snapshot, error) {
	var snap *points.Snapshot
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var total, earned int
		if err := tx.QueryRowContext(ctx, `
			SELECT
				(SELECT COALESCE(SUM(points), 0) FROM points_ledger WHERE user_id = ?1),
				(SELECT COUNT(*) FROM user_achievements WHERE user_id = ?1 AND is_completed = 1)`,
			userID).Scan(&total, &earned); err != nil {
			return fmt.Errorf("aggregate ledger: %w", err)
		}

		var err error
		snap, err = scanSnapshot(tx.QueryRowContext(ctx, `
			INSERT INTO user_points (user_id, total_points, current_level, achievements_earned, updated_at)
			VALUES (?1, ?2, ?3, ?4, ?5)
			ON CONFLICT (user_id) DO UPDATE SET
				total_points = excluded.total_points,
				current_level = excluded.current_level,
				achievements_earned = excluded.achievements_earned,
				updated_at = excluded.updated_at
			RETURNING `+snapshotColumns,
			userID, total, points.LevelFor(total), earned, toMillis(at)))
		if err != nil {
			return fmt.Errorf("update snapshot: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// creditTx appends entry, then applies delta under a savepoint so a snapshot
// failure does not undo the ledger write.
func creditTx(ctx context.Context, tx *sql.Tx, entry points.LedgerEntry, delta points.SnapshotDelta) (points.CreditResult, error) {
	var res points.CreditResult

	_, err := tx.ExecContext(ctx, `
		INSERT INTO points_ledger (id, user_id, points, action, description, achievement_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.UserID, entry.Points, string(entry.Action), entry.Description,
		nullIfEmpty(entry.AchievementID), toMillis(entry.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return res, shared.WrapError("ledger", "Append", shared.ErrAlreadyExists, "duplicate ledger entry", err)
		}
		return res, fmt.Errorf("append ledger entry: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `SAVEPOINT snapshot`); err != nil {
		res.SnapshotErr = err
		return res, nil
	}
	change, err := applySnapshot(ctx, tx, delta)
	if err != nil {
		if _, rbErr := tx.ExecContext(ctx, `ROLLBACK TO snapshot`); rbErr != nil {
			return res, fmt.Errorf("roll back snapshot savepoint: %w", rbErr)
		}
		res.SnapshotErr = err
	} else {
		res.Change = change
	}
	if _, err := tx.ExecContext(ctx, `RELEASE snapshot`); err != nil {
		return res, fmt.Errorf("release snapshot savepoint: %w", err)
	}
	return res, nil
}

var applySnapshotSQL = fmt.Sprintf(`
	INSERT INTO user_points (
		user_id, total_points, current_level, achievements_earned,
		courses_completed, lessons_completed, current_streak, updated_at
	) VALUES (?1, ?2, %s, ?3, ?5, ?6, ?7, ?8)
	ON CONFLICT (user_id) DO UPDATE SET
		total_points = user_points.total_points + excluded.total_points,
		current_level = %s,
		achievements_earned = user_points.achievements_earned + excluded.achievements_earned,
		courses_completed = CASE WHEN ?4 THEN MAX(user_points.courses_completed, excluded.courses_completed) ELSE user_points.courses_completed END,
		lessons_completed = CASE WHEN ?4 THEN MAX(user_points.lessons_completed, excluded.lessons_completed) ELSE user_points.lessons_completed END,
		current_streak = CASE WHEN ?4 THEN excluded.current_streak ELSE user_points.current_streak END,
		updated_at = excluded.updated_at
	RETURNING `+snapshotColumns,
	points.LevelCaseSQL("?2"),
	points.LevelCaseSQL("(user_points.total_points + excluded.total_points)"),
)

// applySnapshot increments the snapshot in one statement.
func applySnapshot(ctx context.Context, tx *sql.Tx, d points.SnapshotDelta) (points.SnapshotChange, error) {
	change := points.SnapshotChange{OldLevel: points.MinLevel}

	err := tx.QueryRowContext(ctx,
		`SELECT current_level FROM user_points WHERE user_id = ?`, d.UserID,
	).Scan(&change.OldLevel)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return change, fmt.Errorf("read level: %w", err)
	}

	change.Snapshot, err = scanSnapshot(tx.QueryRowContext(ctx, applySnapshotSQL,
		d.UserID, d.Points, d.AchievementsEarned, d.Observed,
		d.CoursesCompleted, d.LessonsCompleted, d.CurrentStreak, toMillis(d.At)))
	if err != nil {
		return change, fmt.Errorf("apply snapshot: %w", err)
	}
	return change, nil
}

func scanSnapshot(row scanner) (*points.Snapshot, error) {
	var (
		s         points.Snapshot
		updatedAt int64
	)
	err := row.Scan(&s.UserID, &s.TotalPoints, &s.CurrentLevel, &s.CoursesCompleted,
		&s.LessonsCompleted, &s.AchievementsEarned, &s.CurrentStreak, &updatedAt)
	if err != nil {
		return nil, err
	}
	s.UpdatedAt = fromMillis(updatedAt)
	return &s, nil
}
