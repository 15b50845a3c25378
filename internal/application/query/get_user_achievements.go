package query

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alem-hub/achievement-engine/internal/domain/achievement"
	"github.com/alem-hub/achievement-engine/internal/domain/points"
	"github.com/alem-hub/achievement-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET USER ACHIEVEMENTS QUERY
// Earned achievements plus the points summary. A snapshot that disagrees with
// the ledger is repaired before it is returned.
// ══════════════════════════════════════════════════════════════════════════════

// UserAchievementsResult is the user's achievement list and points summary.
type UserAchievementsResult struct {
	UserID       string                          `json:"user_id"`
	Achievements []achievement.EarnedAchievement `json:"achievements"`
	Points       points.Snapshot                 `json:"points"`
	Level        points.LevelProgress            `json:"level"`

	// Repaired is set when the snapshot lagged the ledger on read.
	Repaired bool `json:"repaired"`
}

// GetUserAchievementsHandler handles user achievement queries.
type GetUserAchievementsHandler struct {
	grants    achievement.GrantRepository
	ledger    points.LedgerRepository
	snapshots points.SnapshotRepository
	now       func() time.Time
	logger    *slog.Logger
}

// NewGetUserAchievementsHandler creates a new GetUserAchievementsHandler.
func NewGetUserAchievementsHandler(
	grants achievement.GrantRepository,
	ledger points.LedgerRepository,
	snapshots points.SnapshotRepository,
	logger *slog.Logger,
) *GetUserAchievementsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GetUserAchievementsHandler{
		grants:    grants,
		ledger:    ledger,
		snapshots: snapshots,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

// Handle returns the user's earned achievements, newest first.
func (h *GetUserAchievementsHandler) Handle(ctx context.Context, userID string) (*UserAchievementsResult, error) {
	if userID == "" {
		return nil, shared.ErrInvalidUserID
	}

	list, err := h.grants.ListEarned(ctx, userID)
	if err != nil {
		return nil, shared.ErrProgressUnavailable.Wrap(err)
	}
	if list == nil {
		list = []achievement.EarnedAchievement{}
	}

	snap, repaired, err := h.snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &UserAchievementsResult{
		UserID:       userID,
		Achievements: list,
		Points:       *snap,
		Level:        points.Progress(snap.TotalPoints),
		Repaired:     repaired,
	}, nil
}

// snapshot loads the stored snapshot and compares it with the ledger sum.
// When the reconcile itself fails the ledger total is still reported.
func (h *GetUserAchievementsHandler) snapshot(ctx context.Context, userID string) (*points.Snapshot, bool, error) {
	sum, err := h.ledger.SumByUser(ctx, userID)
	if err != nil {
		return nil, false, shared.ErrLedgerUnavailable.Wrap(err)
	}

	snap, err := h.snapshots.Get(ctx, userID)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		snap = points.EmptySnapshot(userID)
	case err != nil:
		return nil, false, shared.ErrLedgerUnavailable.Wrap(err)
	}
	if snap.TotalPoints == sum {
		return snap, false, nil
	}

	h.logger.Warn("snapshot drift detected",
		"user_id", userID,
		"snapshot_total", snap.TotalPoints,
		"ledger_total", sum,
	)
	repaired, err := h.snapshots.Reconcile(ctx, userID, h.now())
	if err != nil {
		h.logger.Error("on-read repair failed", "user_id", userID, "error", err)
		snap.TotalPoints = sum
		snap.CurrentLevel = points.LevelFor(sum)
		return snap, false, nil
	}
	return repaired, true, nil
}
