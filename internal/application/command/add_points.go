package command

import (
	"context"
	"log/slog"
	"time"

	"github.com/alem-hub/achievement-engine/internal/domain/points"
	"github.com/alem-hub/achievement-engine/internal/domain/shared"
	"github.com/alem-hub/achievement-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// ADD POINTS COMMAND
// Appends one point transaction and moves the snapshot by the same amount.
// ══════════════════════════════════════════════════════════════════════════════

// AddPointsCommand describes one ledger entry.
type AddPointsCommand struct {
	UserID        string
	Points        int
	Action        points.Action
	Description   string
	AchievementID string
}

// Validate validates the command.
func (c AddPointsCommand) Validate() error {
	if c.UserID == "" {
		return shared.ErrInvalidUserID
	}
	if c.Points == 0 {
		return shared.ErrInvalidPoints
	}
	return nil
}

// AddPointsResult contains the appended entry and the snapshot after it.
type AddPointsResult struct {
	Entry points.LedgerEntry `json:"entry"`

	// Snapshot is nil when the snapshot update failed; the entry is still
	// durable and the snapshot is repaired later.
	Snapshot *points.Snapshot `json:"snapshot,omitempty"`
}

// AddPointsHandler handles the AddPointsCommand.
type AddPointsHandler struct {
	ledger    points.LedgerRepository
	publisher shared.EventPublisher
	retrier   *retry.Retrier
	now       func() time.Time
	newID     func() string
	logger    *slog.Logger
}

// NewAddPointsHandler creates a new AddPointsHandler.
func NewAddPointsHandler(ledger points.LedgerRepository, opts ...HandlerOption) *AddPointsHandler {
	o := buildOptions(opts)
	return &AddPointsHandler{
		ledger:    ledger,
		publisher: o.publisher,
		retrier:   o.retrier,
		now:       o.now,
		newID:     o.newID,
		logger:    o.logger.With("component", "ledger"),
	}
}

// Handle appends the entry. A failed append is shared.ErrLedgerUnavailable;
// a failed snapshot update after a durable append is logged and tolerated.
func (h *AddPointsHandler) Handle(ctx context.Context, cmd AddPointsCommand) (*AddPointsResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	now := h.now()
	action := cmd.Action
	if action == "" {
		action = points.ActionManualAdjustment
	}

	entry := points.LedgerEntry{
		ID:            h.newID(),
		UserID:        cmd.UserID,
		Points:        cmd.Points,
		Action:        action,
		Description:   cmd.Description,
		AchievementID: cmd.AchievementID,
		CreatedAt:     now,
	}
	delta := points.SnapshotDelta{UserID: cmd.UserID, Points: cmd.Points, At: now}

	var res points.CreditResult
	err := h.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		res, err = h.ledger.Credit(ctx, entry, delta)
		return err
	})
	if err != nil {
		return nil, shared.ErrLedgerUnavailable.Wrap(err)
	}

	result := &AddPointsResult{Entry: entry}
	if res.SnapshotErr != nil {
		h.logger.Warn("snapshot lags ledger", "user_id", cmd.UserID, "points", cmd.Points, "error", res.SnapshotErr)
	} else {
		result.Snapshot = res.Change.Snapshot
	}

	if h.publisher != nil {
		events := []shared.Event{shared.NewPointsAwardedEvent(cmd.UserID, cmd.Points, string(action), now)}
		if res.Change.LevelChanged() {
			events = append(events, shared.NewLevelChangedEvent(cmd.UserID, res.Change.OldLevel, res.Change.Snapshot.CurrentLevel, now))
		}
		for _, e := range events {
			if err := h.publisher.Publish(e); err != nil {
				h.logger.Warn("failed to publish event", "event_type", e.EventType(), "error", err)
			}
		}
	}
	return result, nil
}
