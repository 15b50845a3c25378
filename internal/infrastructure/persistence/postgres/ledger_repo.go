package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/achievement-engine/internal/domain/points"
	"github.com/alem-hub/achievement-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// LedgerRepository implements points.LedgerRepository and
// points.SnapshotRepository for PostgreSQL.
type LedgerRepository struct {
	conn *Connection
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(conn *Connection) *LedgerRepository {
	return &LedgerRepository{conn: conn}
}

// Credit appends entry and applies delta in one transaction.
func (r *LedgerRepository) Credit(ctx context.Context, entry points.LedgerEntry, delta points.SnapshotDelta) (points.CreditResult, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	var res points.CreditResult
	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		res, err = creditTx(ctx, tx, entry, delta)
		return err
	})
	return res, err
}

// SumByUser returns the sum of every ledger entry of the user.
func (r *LedgerRepository) SumByUser(ctx context.Context, userID string) (int, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	var total int
	err := r.conn.Pool().QueryRow(ctx,
		`SELECT COALESCE(SUM(points), 0) FROM points_ledger WHERE user_id = $1`, userID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum ledger: %w", err)
	}
	return total, nil
}

// ListUsers returns every user with ledger entries or a snapshot.
func (r *LedgerRepository) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := r.conn.Pool().Query(ctx, `
		SELECT user_id FROM points_ledger
		UNION
		SELECT user_id FROM user_points
		ORDER BY 1
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	users, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan users: %w", err)
	}
	return users, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

const snapshotColumns = `user_id, total_points, current_level, courses_completed,
	lessons_completed, achievements_earned, current_streak, updated_at`

// Get returns the user's snapshot.
func (r *LedgerRepository) Get(ctx context.Context, userID string) (*points.Snapshot, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	snap, err := scanSnapshot(r.conn.Pool().QueryRow(ctx,
		`SELECT `+snapshotColumns+` FROM user_points WHERE user_id = $1`, userID))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return snap, nil
}

// Reconcile recomputes the snapshot from the ledger under a row lock.
func (r *LedgerRepository) Reconcile(ctx context.Context, userID string, at time.Time) (*points.Snapshot, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	var snap *points.Snapshot
	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		// Creating the row first makes the lock below cover users whose
		// first credit is still in flight.
		if _, err := tx.Exec(ctx,
			`INSERT INTO user_points (user_id, updated_at) VALUES ($1, $2) ON CONFLICT (user_id) DO NOTHING`,
			userID, at); err != nil {
			return fmt.Errorf("failed to ensure snapshot: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`SELECT 1 FROM user_points WHERE user_id = $1 FOR UPDATE`, userID); err != nil {
			return fmt.Errorf("failed to lock snapshot: %w", err)
		}

		var total, earned int
		if err := tx.QueryRow(ctx, `
			SELECT
				(SELECT COALESCE(SUM(points), 0) FROM points_ledger WHERE user_id = $1),
				(SELECT COUNT(*) FROM user_achievements WHERE user_id = $1 AND is_completed)
		`, userID).Scan(&total, &earned); err != nil {
			return fmt.Errorf("failed to aggregate ledger: %w", err)
		}

		var err error
		snap, err = scanSnapshot(tx.QueryRow(ctx, `
			UPDATE user_points
			SET total_points = $2, current_level = $3, achievements_earned = $4, updated_at = $5
			WHERE user_id = $1
			RETURNING `+snapshotColumns,
			userID, total, points.LevelFor(total), earned, at))
		if err != nil {
			return fmt.Errorf("failed to update snapshot: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SHARED TX HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// creditTx appends entry, then applies delta under a savepoint so a snapshot
// failure does not undo the ledger write.
func creditTx(ctx context.Context, tx pgx.Tx, entry points.LedgerEntry, delta points.SnapshotDelta) (points.CreditResult, error) {
	var res points.CreditResult

	_, err := tx.Exec(ctx, `
		INSERT INTO points_ledger (id, user_id, points, action, description, achievement_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.UserID, entry.Points, string(entry.Action), entry.Description,
		nullIfEmpty(entry.AchievementID), entry.CreatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return res, shared.WrapError("ledger", "Append", shared.ErrAlreadyExists, "duplicate ledger entry", err)
		}
		return res, fmt.Errorf("failed to append ledger entry: %w", err)
	}

	sp, err := tx.Begin(ctx)
	if err != nil {
		res.SnapshotErr = err
		return res, nil
	}
	change, err := applySnapshot(ctx, sp, delta)
	if err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return res, fmt.Errorf("failed to roll back snapshot savepoint: %w", rbErr)
		}
		res.SnapshotErr = err
		return res, nil
	}
	if err := sp.Commit(ctx); err != nil {
		return res, fmt.Errorf("failed to release snapshot savepoint: %w", err)
	}
	res.Change = change
	return res, nil
}

var applySnapshotSQL = fmt.Sprintf(`
	INSERT INTO user_points AS up (
		user_id, total_points, current_level, achievements_earned,
		courses_completed, lessons_completed, current_streak, updated_at
	) VALUES ($1, $2, %s, $3, $5, $6, $7, $8)
	ON CONFLICT (user_id) DO UPDATE SET
		total_points = up.total_points + EXCLUDED.total_points,
		current_level = %s,
		achievements_earned = up.achievements_earned + EXCLUDED.achievements_earned,
		courses_completed = CASE WHEN $4 THEN GREATEST(up.courses_completed, EXCLUDED.courses_completed) ELSE up.courses_completed END,
		lessons_completed = CASE WHEN $4 THEN GREATEST(up.lessons_completed, EXCLUDED.lessons_completed) ELSE up.lessons_completed END,
		current_streak = CASE WHEN $4 THEN EXCLUDED.current_streak ELSE up.current_streak END,
		updated_at = EXCLUDED.updated_at
	RETURNING `+snapshotColumns,
	points.LevelCaseSQL("$2::integer"),
	points.LevelCaseSQL("(up.total_points + EXCLUDED.total_points)"),
)

// applySnapshot increments the snapshot in place. The level is recomputed in
// the same statement, so concurrent credits never lose an update.
func applySnapshot(ctx context.Context, q Querier, d points.SnapshotDelta) (points.SnapshotChange, error) {
	change := points.SnapshotChange{OldLevel: points.MinLevel}

	err := q.QueryRow(ctx,
		`SELECT current_level FROM user_points WHERE user_id = $1 FOR UPDATE`, d.UserID,
	).Scan(&change.OldLevel)
	if err != nil && !IsNoRows(err) {
		return change, fmt.Errorf("failed to lock snapshot: %w", err)
	}

	change.Snapshot, err = scanSnapshot(q.QueryRow(ctx, applySnapshotSQL,
		d.UserID, d.Points, d.AchievementsEarned, d.Observed,
		d.CoursesCompleted, d.LessonsCompleted, d.CurrentStreak, d.At))
	if err != nil {
		return change, fmt.Errorf("failed to apply snapshot: %w", err)
	}
	return change, nil
}

func scanSnapshot(row pgx.Row) (*points.Snapshot, error) {
	var s points.Snapshot
	err := row.Scan(&s.UserID, &s.TotalPoints, &s.CurrentLevel, &s.CoursesCompleted,
		&s.LessonsCompleted, &s.AchievementsEarned, &s.CurrentStreak, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
