// Package query contains read operations following CQRS pattern.
// Queries never modify authoritative state; they may fill caches and repair
// derived snapshots.
package query

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
// GET LEADERBOARD QUERY
// Ranks users by points earned inside the current window of a period.
// ══════════════════════════════════════════════════════════════════════════════

// GetLeaderboardQuery contains the leaderboard request.
type GetLeaderboardQuery struct {
	// Period is one of daily, weekly, monthly, all_time.
	Period string

	// Limit is the number of rows. 0 means the default; values above the
	// maximum are clamped.
	Limit int
}

// GetLeaderboardResult contains a ranked board.
type GetLeaderboardResult struct {
	Period      leaderboard.PeriodType `json:"period"`
	PeriodDate  string                 `json:"period_date"`
	Entries     []leaderboard.Entry    `json:"entries"`
	GeneratedAt time.Time              `json:"generated_at"`
	FromCache   bool                   `json:"from_cache"`
}

// GetLeaderboardHandler handles leaderboard queries. Boards are read from the
// cache when present, then from the materialized table while no ledger entry
// is newer than it, and aggregated from the ledger otherwise.
type GetLeaderboardHandler struct {
	repo         leaderboard.Repository
	cache        leaderboard.Cache
	calendar     timeutil.Calendar
	defaultLimit int
	maxLimit     int
	now          func() time.Time
	logger       *slog.Logger
}

// LeaderboardOption configures a GetLeaderboardHandler.
type LeaderboardOption func(*GetLeaderboardHandler)

// WithLimits overrides the default and maximum row counts. The maximum can
// not exceed leaderboard.MaxLimit, the size of a cached board.
func WithLimits(defaultLimit, maxLimit int) LeaderboardOption {
	return func(h *GetLeaderboardHandler) {
		if maxLimit > 0 && maxLimit <= leaderboard.MaxLimit {
			h.maxLimit = maxLimit
		}
		if defaultLimit > 0 {
			h.defaultLimit = defaultLimit
		}
	}
}

// WithLeaderboardClock overrides the time source.
func WithLeaderboardClock(now func() time.Time) LeaderboardOption {
	return func(h *GetLeaderboardHandler) { h.now = now }
}

// WithLeaderboardLogger sets the logger.
func WithLeaderboardLogger(l *slog.Logger) LeaderboardOption {
	return func(h *GetLeaderboardHandler) { h.logger = l }
}

// NewGetLeaderboardHandler creates a new GetLeaderboardHandler. cache may be nil.
func NewGetLeaderboardHandler(
	repo leaderboard.Repository,
	cache leaderboard.Cache,
	calendar timeutil.Calendar,
	opts ...LeaderboardOption,
) *GetLeaderboardHandler {
	h := &GetLeaderboardHandler{
		repo:         repo,
		cache:        cache,
		calendar:     calendar,
		defaultLimit: leaderboard.DefaultLimit,
		maxLimit:     leaderboard.MaxLimit,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.defaultLimit > h.maxLimit {
		h.defaultLimit = h.maxLimit
	}
	return h
}

func (h *GetLeaderboardHandler) limit(requested int) (int, error) {
	switch {
	case requested < 0:
		return 0, shared.ErrInvalidLimit
	case requested == 0:
		return h.defaultLimit, nil
	case requested > h.maxLimit:
		return h.maxLimit, nil
	}
	return requested, nil
}

// Handle returns the top rows of the current window.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, q GetLeaderboardQuery) (*GetLeaderboardResult, error) {
	period, err := leaderboard.ParsePeriod(q.Period)
	if err != nil {
		return nil, err
	}
	limit, err := h.limit(q.Limit)
	if err != nil {
		return nil, err
	}

	now := h.now()
	w, err := leaderboard.WindowFor(h.calendar, period, now)
	if err != nil {
		return nil, err
	}
	result := &GetLeaderboardResult{Period: period, PeriodDate: w.Anchor, GeneratedAt: now}

	// The generation is read first so a board built from data that predates a
	// concurrent invalidation is never cached.
	var gen int64
	cacheable := h.cache != nil
	if h.cache != nil {
		if gen, err = h.cache.Generation(ctx); err != nil {
			h.logger.Warn("leaderboard cache generation read failed", "period", period, "error", err)
			cacheable = false
		}
		entries, ok, err := h.cache.GetTop(ctx, w, limit)
		if err != nil {
			h.logger.Warn("leaderboard cache read failed", "period", period, "error", err)
		} else if ok {
			result.Entries = truncate(entries, limit)
			result.FromCache = true
			return result, nil
		}
	}

	board, err := h.board(ctx, w)
	if err != nil {
		return nil, err
	}

	if cacheable {
		err := h.cache.SetTop(ctx, w, board, gen)
		switch {
		case errors.Is(err, shared.ErrStaleBoard):
			h.logger.Debug("leaderboard invalidated while building, not cached", "period", period)
		case err != nil:
			h.logger.Warn("leaderboard cache write failed", "period", period, "error", err)
		}
	}

	result.Entries = truncate(board, limit)
	return result, nil
}

// board returns the materialized board while it is still current and ranks a
// fresh aggregation of the ledger otherwise.
func (h *GetLeaderboardHandler) board(ctx context.Context, w leaderboard.Window) ([]leaderboard.Entry, error) {
	stored, err := h.repo.FreshMaterialized(ctx, w)
	if err != nil {
		h.logger.Warn("materialized leaderboard read failed", "period", w.Period, "error", err)
	} else if len(stored) > 0 {
		return stored, nil
	}

	rows, err := h.repo.Aggregate(ctx, w, leaderboard.MaxLimit)
	if err != nil {
		return nil, shared.ErrLeaderboardUnavailable.Wrap(err)
	}
	return leaderboard.Rank(w, rows, leaderboard.MaxLimit), nil
}

func truncate(entries []leaderboard.Entry, limit int) []leaderboard.Entry {
	if entries == nil {
		return []leaderboard.Entry{}
	}
	if len(entries) > limit {
		return entries[:limit]
	}
	return entries
}
