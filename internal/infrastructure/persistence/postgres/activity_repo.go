package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/achievement-engine/internal/domain/progress"
)

// ActivityRepository reads the activity log collaborator's feed.
// It implements progress.ActivitySource.
type ActivityRepository struct {
	conn *Connection
}

// NewActivityRepository creates a new ActivityRepository.
func NewActivityRepository(conn *Connection) *ActivityRepository {
	return &ActivityRepository{conn: conn}
}

// StudyHours returns the total logged study time in hours.
func (r *ActivityRepository) StudyHours(ctx context.Context, userID string) (float64, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	var minutes int64
	err := r.conn.Pool().QueryRow(ctx,
		`SELECT COALESCE(SUM(minutes), 0) FROM activity_log WHERE user_id = $1`,
		userID,
	).Scan(&minutes)
	if err != nil {
		return 0, fmt.Errorf("failed to sum study minutes: %w", err)
	}
	return float64(minutes) / 60, nil
}

// CurrentStreak returns consecutive active days ending today or yesterday.
func (r *ActivityRepository) CurrentStreak(ctx context.Context, userID string, today time.Time) (int, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	// A streak can never be longer than the window, so a year is enough.
	rows, err := r.conn.Pool().Query(ctx, `
		SELECT activity_date FROM activity_log
		WHERE user_id = $1 AND minutes > 0 AND activity_date <= $2::date
		ORDER BY activity_date DESC
		LIMIT 366
	`, userID, today.Format("2006-01-02"))
	if err != nil {
		return 0, fmt.Errorf("failed to query activity days: %w", err)
	}
	days, err := pgx.CollectRows(rows, pgx.RowTo[time.Time])
	if err != nil {
		return 0, fmt.Errorf("failed to scan activity days: %w", err)
	}
	return progress.Streak(days, today), nil
}
