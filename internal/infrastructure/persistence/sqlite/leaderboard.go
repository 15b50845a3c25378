package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alem-hub/achievement-engine/internal/domain/leaderboard"
)

// Aggregate sums the ledger per user inside [w.Start, w.End) in ranking order.
func (s *Store) Aggregate(ctx context.Context, w leaderboard.Window, limit int) ([]leaderboard.Row, error) {
	var start, end sql.NullInt64
	if w.Bounded() {
		start = sql.NullInt64{Int64: toMillis(w.Start), Valid: true}
		end = sql.NullInt64{Int64: toMillis(w.End), Valid: true}
	}
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT user_id, SUM(points) AS total, MAX(created_at) AS last_at
		FROM points_ledger
		WHERE ?1 IS NULL OR (created_at >= ?1 AND created_at < ?2)
		GROUP BY user_id
		ORDER BY total DESC, last_at ASC, user_id ASC
		LIMIT ?3`, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("aggregate ledger: %w", err)
	}
	defer rows.Close()

	var list []leaderboard.Row
	for rows.Next() {
		var (
			r      leaderboard.Row
			lastAt int64
		)
		if err := rows.Scan(&r.UserID, &r.Points, &lastAt); err != nil {
			return nil, fmt.Errorf("scan leaderboard row: %w", err)
		}
		r.LastAt = fromMillis(lastAt)
		list = append(list, r)
	}
	return list, rows.Err()
}

// ReplaceMaterialized swaps the stored board for (period, anchor) in one transaction.
func (s *Store) ReplaceMaterialized(ctx context.Context, w leaderboard.Window, entries []leaderboard.Entry, generatedAt time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM leaderboard_entries WHERE period_type = ? AND period_date = ?`,
			string(w.Period), w.Anchor); err != nil {
			return fmt.Errorf("clear leaderboard: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO leaderboard_entries
				(period_type, period_date, user_id, points, rank, last_at, generated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare leaderboard insert: %w", err)
		}
		defer stmt.Close()

		for _, e := range entries {
			if _, err := stmt.ExecContext(ctx, string(w.Period), w.Anchor, e.UserID,
				e.Points, e.Rank, toMillis(e.LastAt), toMillis(generatedAt)); err != nil {
				return fmt.Errorf("insert leaderboard entry: %w", err)
			}
		}
		return nil
	})
}

// FreshMaterialized returns the stored board for the window's (period, anchor)
// while no ledger entry is newer than its generation time.
func (s *Store) FreshMaterialized(ctx context.Context, w leaderboard.Window) ([]leaderboard.Entry, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT e.user_id, e.points, e.rank, e.last_at
		FROM leaderboard_entries e
		WHERE e.period_type = ? AND e.period_date = ?
		  AND NOT EXISTS (
			SELECT 1 FROM points_ledger l WHERE l.created_at >= e.generated_at
		  )
		ORDER BY e.rank`, string(w.Period), w.Anchor)
	if err != nil {
		return nil, fmt.Errorf("list leaderboard: %w", err)
	}
	defer rows.Close()

	var list []leaderboard.Entry
	for rows.Next() {
		e := leaderboard.Entry{PeriodType: w.Period, PeriodDate: w.Anchor}
		var lastAt int64
		if err := rows.Scan(&e.UserID, &e.Points, &e.Rank, &lastAt); err != nil {
			return nil, fmt.Errorf("scan leaderboard entry: %w", err)
		}
		e.LastAt = fromMillis(lastAt)
		list = append(list, e)
	}
	return list, rows.Err()
}
