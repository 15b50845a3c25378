package command

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alem-hub/achievement-engine/internal/domain/points"
	"github.com/alem-hub/achievement-engine/internal/domain/shared"
	"github.com/alem-hub/achievement-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPAIR SNAPSHOTS COMMAND
// Rebuilds per-user snapshots from the ledger after a lagging write.
// ══════════════════════════════════════════════════════════════════════════════

// RepairReport summarizes a repair pass.
type RepairReport struct {
	Checked  int `json:"checked"`
	Repaired int `json:"repaired"`
	Failed   int `json:"failed"`
}

// RepairSnapshotsHandler reconciles snapshots against the ledger.
type RepairSnapshotsHandler struct {
	ledger    points.LedgerRepository
	snapshots points.SnapshotRepository
	retrier   *retry.Retrier
	now       func() time.Time
	logger    *slog.Logger
}

// NewRepairSnapshotsHandler creates a new RepairSnapshotsHandler.
func NewRepairSnapshotsHandler(ledger points.LedgerRepository, snapshots points.SnapshotRepository, opts ...HandlerOption) *RepairSnapshotsHandler {
	o := buildOptions(opts)
	return &RepairSnapshotsHandler{
		ledger:    ledger,
		snapshots: snapshots,
		retrier:   o.retrier,
		now:       o.now,
		logger:    o.logger.With("component", "repair"),
	}
}

// RepairUser unconditionally recomputes one user's snapshot from the ledger.
func (h *RepairSnapshotsHandler) RepairUser(ctx context.Context, userID string) (*points.Snapshot, error) {
	if userID == "" {
		return nil, shared.ErrInvalidUserID
	}
	var snap *points.Snapshot
	err := h.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		snap, err = h.snapshots.Reconcile(ctx, userID, h.now())
		return err
	})
	if err != nil {
		return nil, shared.ErrLedgerUnavailable.Wrap(err)
	}
	return snap, nil
}

// Drifted reports whether the stored snapshot disagrees with the ledger sum.
// A missing snapshot drifts when the user has ledger entries.
func (h *RepairSnapshotsHandler) Drifted(ctx context.Context, userID string) (bool, error) {
	sum, err := h.ledger.SumByUser(ctx, userID)
	if err != nil {
		return false, err
	}
	snap, err := h.snapshots.Get(ctx, userID)
	if errors.Is(err, shared.ErrNotFound) {
		return sum != 0, nil
	}
	if err != nil {
		return false, err
	}
	return snap.TotalPoints != sum || snap.CurrentLevel != points.LevelFor(snap.TotalPoints), nil
}

// RepairAll checks every known user and reconciles the drifted ones.
// A failure for one user is counted and the pass continues.
func (h *RepairSnapshotsHandler) RepairAll(ctx context.Context) (RepairReport, error) {
	var report RepairReport

	users, err := h.ledger.ListUsers(ctx)
	if err != nil {
		return report, shared.ErrLedgerUnavailable.Wrap(err)
	}

	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++

		drifted, err := h.Drifted(ctx, userID)
		if err != nil {
			report.Failed++
			h.logger.Error("drift check failed", "user_id", userID, "error", err)
			continue
		}
		if !drifted {
			continue
		}

		if _, err := h.RepairUser(ctx, userID); err != nil {
			report.Failed++
			h.logger.Error("snapshot repair failed", "user_id", userID, "error", err)
			continue
		}
		report.Repaired++
		h.logger.Info("snapshot repaired", "user_id", userID)
	}
	return report, nil
}
