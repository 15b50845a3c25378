package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/achievement-engine/internal/domain/leaderboard"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardRepository implements leaderboard.Repository for PostgreSQL.
type LeaderboardRepository struct {
	conn *Connection
}

// NewLeaderboardRepository creates a new LeaderboardRepository.
func NewLeaderboardRepository(conn *Connection) *LeaderboardRepository {
	return &LeaderboardRepository{conn: conn}
}

// Aggregate sums the ledger per user inside [w.Start, w.End) and returns the
// rows in ranking order.
func (r *LeaderboardRepository) Aggregate(ctx context.Context, w leaderboard.Window, limit int) ([]leaderboard.Row, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	var start, end *time.Time
	if w.Bounded() {
		start, end = &w.Start, &w.End
	}
	var lim *int
	if limit > 0 {
		lim = &limit
	}

	rows, err := r.conn.Pool().Query(ctx, `
		SELECT user_id, SUM(points) AS total, MAX(created_at) AS last_at
		FROM points_ledger
		WHERE $1::timestamptz IS NULL OR (created_at >= $1 AND created_at < $2::timestamptz)
		GROUP BY user_id
		ORDER BY total DESC, last_at ASC, user_id ASC
		LIMIT $3
	`, start, end, lim)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate ledger: %w", err)
	}

	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (leaderboard.Row, error) {
		var lr leaderboard.Row
		err := row.Scan(&lr.UserID, &lr.Points, &lr.LastAt)
		return lr, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan leaderboard rows: %w", err)
	}
	return list, nil
}

// ReplaceMaterialized swaps the stored board for (period, anchor) in one transaction.
func (r *LeaderboardRepository) ReplaceMaterialized(ctx context.Context, w leaderboard.Window, entries []leaderboard.Entry, generatedAt time.Time) error {
	return r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`DELETE FROM leaderboard_entries WHERE period_type = $1 AND period_date = $2`,
			string(w.Period), w.Anchor)
		if err != nil {
			return fmt.Errorf("failed to clear leaderboard: %w", err)
		}
		if len(entries) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, e := range entries {
			batch.Queue(`
				INSERT INTO leaderboard_entries
					(period_type, period_date, user_id, points, rank, last_at, generated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, string(w.Period), w.Anchor, e.UserID, e.Points, e.Rank, e.LastAt, generatedAt)
		}

		br := tx.SendBatch(ctx, batch)
		for range entries {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("failed to insert leaderboard entry: %w", err)
			}
		}
		return br.Close()
	})
}

// FreshMaterialized returns the stored board for the window's (period, anchor)
// while no ledger entry is newer than its generation time.
func (r *LeaderboardRepository) FreshMaterialized(ctx context.Context, w leaderboard.Window) ([]leaderboard.Entry, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	rows, err := r.conn.Pool().Query(ctx, `
		SELECT e.user_id, e.points, e.rank, e.last_at
		FROM leaderboard_entries e
		WHERE e.period_type = $1 AND e.period_date = $2
		  AND NOT EXISTS (
			SELECT 1 FROM points_ledger l WHERE l.created_at >= e.generated_at
		  )
		ORDER BY e.rank
	`, string(w.Period), w.Anchor)
	if err != nil {
		return nil, fmt.Errorf("failed to list leaderboard: %w", err)
	}

	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (leaderboard.Entry, error) {
		e := leaderboard.Entry{PeriodType: w.Period, PeriodDate: w.Anchor}
		err := row.Scan(&e.UserID, &e.Points, &e.Rank, &e.LastAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan leaderboard entries: %w", err)
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list, nil
}
