// Package jobs contains the scheduled maintenance jobs run by the worker.
package jobs

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alem-hub/achievement-engine/internal/application/command"
)

// ══════════════════════════════════════════════════════════════════════════════
// REBUILD LEADERBOARD JOB
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardRebuilder materializes every period's current board.
type LeaderboardRebuilder interface {
	RebuildAll(ctx context.Context) ([]command.RebuildResult, error)
}

// RebuildStats contains statistics from the last rebuild run.
type RebuildStats struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Boards      int
	Entries     int
	Err         error
}

// RebuildLeaderboardJob materializes leaderboard_entries and warms the cache.
type RebuildLeaderboardJob struct {
	rebuilder LeaderboardRebuilder
	logger    *slog.Logger
	lastStats atomic.Pointer[RebuildStats]
}

// NewRebuildLeaderboardJob creates a new rebuild leaderboard job.
func NewRebuildLeaderboardJob(rebuilder LeaderboardRebuilder, logger *slog.Logger) *RebuildLeaderboardJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &RebuildLeaderboardJob{rebuilder: rebuilder, logger: logger}
}

// Name implements scheduler.Job.
func (j *RebuildLeaderboardJob) Name() string { return "rebuild_leaderboard" }

// Description implements scheduler.Job.
func (j *RebuildLeaderboardJob) Description() string {
	return "Materializes daily, weekly, monthly and all-time leaderboards"
}

// Run implements scheduler.Job.
func (j *RebuildLeaderboardJob) Run(ctx context.Context) error {
	stats := &RebuildStats{StartedAt: time.Now()}
	defer func() {
		stats.CompletedAt = time.Now()
		j.lastStats.Store(stats)
	}()

	results, err := j.rebuilder.RebuildAll(ctx)
	for _, r := range results {
		stats.Boards++
		stats.Entries += r.Entries
		j.logger.Debug("leaderboard materialized",
			"period", r.Window.Period,
			"period_date", r.Window.Anchor,
			"entries", r.Entries,
		)
	}
	if err != nil {
		stats.Err = err
		return err
	}

	j.logger.Info("leaderboards rebuilt", "boards", stats.Boards, "entries", stats.Entries)
	return nil
}

// LastStats returns the stats of the last run, or nil before the first run.
func (j *RebuildLeaderboardJob) LastStats() *RebuildStats {
	return j.lastStats.Load()
}
