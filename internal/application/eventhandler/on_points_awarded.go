// Package eventhandler contains domain event subscribers. They run side
// effects after a grant or ledger write has committed.
package eventhandler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/achievement-engine/internal/domain/leaderboard"
	"github.com/alem-hub/achievement-engine/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON POINTS AWARDED HANDLER
// Drops cached leaderboards so the next read aggregates the fresh ledger.
// ═══════════════════════════════════════════════════════════════════════════

// OnPointsAwardedHandler invalidates cached boards after a ledger append.
type OnPointsAwardedHandler struct {
	cache   leaderboard.Cache
	timeout time.Duration
	logger  *slog.Logger
}

// NewOnPointsAwardedHandler creates a new handler. timeout bounds one
// invalidation; zero means 5 seconds.
func NewOnPointsAwardedHandler(cache leaderboard.Cache, timeout time.Duration, logger *slog.Logger) *OnPointsAwardedHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OnPointsAwardedHandler{
		cache:   cache,
		timeout: timeout,
		logger:  logger.With("component", "leaderboard_invalidator"),
	}
}

// Handle implements shared.EventHandler.
func (h *OnPointsAwardedHandler) Handle(event shared.Event) error {
	if event.EventType() != shared.EventPointsAwarded {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.cache.InvalidateAll(ctx); err != nil {
		return fmt.Errorf("invalidate leaderboards for %s: %w", event.AggregateID(), err)
	}
	h.logger.Debug("leaderboards invalidated", "user_id", event.AggregateID())
	return nil
}
