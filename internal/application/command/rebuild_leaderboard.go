package command

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alem-hub/achievement-engine/internal/domain/leaderboard"
	"github.com/alem-hub/achievement-engine/internal/domain/shared"
	"github.com/alem-hub/achievement-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// REBUILD LEADERBOARD COMMAND
// Materializes the current window of each period into leaderboard_entries and
// warms the cache with the same board.
// ══════════════════════════════════════════════════════════════════════════════

// RebuildResult describes one materialized board.
type RebuildResult struct {
	Window  leaderboard.Window
	Entries int
}

// RebuildLeaderboardHandler rebuilds materialized leaderboards.
type RebuildLeaderboardHandler struct {
	repo     leaderboard.Repository
	cache    leaderboard.Cache
	calendar timeutil.Calendar
	now      func() time.Time
	logger   *slog.Logger
}

// NewRebuildLeaderboardHandler creates a new RebuildLeaderboardHandler.
// cache may be nil.
func NewRebuildLeaderboardHandler(
	repo leaderboard.Repository,
	cache leaderboard.Cache,
	calendar timeutil.Calendar,
	opts ...HandlerOption,
) *RebuildLeaderboardHandler {
	o := buildOptions(opts)
	return &RebuildLeaderboardHandler{
		repo:     repo,
		cache:    cache,
		calendar: calendar,
		now:      o.now,
		logger:   o.logger.With("component", "leaderboard"),
	}
}

// Rebuild materializes the current window of period.
func (h *RebuildLeaderboardHandler) Rebuild(ctx context.Context, period leaderboard.PeriodType) (RebuildResult, error) {
	now := h.now()
	w, err := leaderboard.WindowFor(h.calendar, period, now)
	if err != nil {
		return RebuildResult{}, err
	}

	// Read before aggregating: an invalidation after this point means the
	// board may miss the points that triggered it.
	var gen int64
	cacheable := h.cache != nil
	if h.cache != nil {
		if gen, err = h.cache.Generation(ctx); err != nil {
			h.logger.Warn("failed to read leaderboard cache generation", "period", period, "error", err)
			cacheable = false
		}
	}

	rows, err := h.repo.Aggregate(ctx, w, leaderboard.MaxLimit)
	if err != nil {
		return RebuildResult{}, shared.ErrLeaderboardUnavailable.Wrap(err)
	}
	entries := leaderboard.Rank(w, rows, leaderboard.MaxLimit)

	if err := h.repo.ReplaceMaterialized(ctx, w, entries, now); err != nil {
		return RebuildResult{}, shared.ErrLeaderboardUnavailable.Wrap(err)
	}
	if cacheable {
		err := h.cache.SetTop(ctx, w, entries, gen)
		switch {
		case errors.Is(err, shared.ErrStaleBoard):
			h.logger.Debug("leaderboard invalidated during rebuild, cache not warmed", "period", period)
		case err != nil:
			h.logger.Warn("failed to warm leaderboard cache", "period", period, "error", err)
		}
	}
	return RebuildResult{Window: w, Entries: len(entries)}, nil
}

// RebuildAll rebuilds every period. It stops at the first failure.
func (h *RebuildLeaderboardHandler) RebuildAll(ctx context.Context) ([]RebuildResult, error) {
	results := make([]RebuildResult, 0, len(leaderboard.Periods()))
	for _, period := range leaderboard.Periods() {
		res, err := h.Rebuild(ctx, period)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}
