// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/achievement-engine/internal/domain/achievement"
	"github.com/alem-hub/achievement-engine/internal/domain/points"
	"github.com/alem-hub/achievement-engine/internal/domain/progress"
	"github.com/alem-hub/achievement-engine/internal/domain/shared"
	"github.com/alem-hub/achievement-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATE AND GRANT COMMAND
// Diffs the learner's current statistics against the applicable catalog and
// grants every newly satisfied achievement exactly once.
// ══════════════════════════════════════════════════════════════════════════════

// EvaluateAndGrantCommand requests an evaluation for one user.
type EvaluateAndGrantCommand struct {
	UserID string

	// CourseID scopes the candidates to global plus this course.
	// Empty means global achievements only.
	CourseID string

	// EnrollmentID is recorded on course-scoped grants when known.
	EnrollmentID string
}

// Validate validates the command.
func (c EvaluateAndGrantCommand) Validate() error {
	if c.UserID == "" {
		return shared.ErrInvalidUserID
	}
	return nil
}

// GrantFailure is one candidate whose grant write failed.
type GrantFailure struct {
	Achievement achievement.Achievement `json:"achievement"`
	Err         error                   `json:"-"`
}

// EvaluateResult contains the outcome of an evaluation.
type EvaluateResult struct {
	UserID   string `json:"user_id"`
	CourseID string `json:"course_id,omitempty"`

	// Granted lists the newly granted achievements in evaluation order.
	Granted []achievement.Achievement `json:"granted"`

	// Failures lists candidates that were satisfied but could not be written.
	// Each Err wraps shared.ErrPartialGrantFailure.
	Failures []GrantFailure `json:"-"`

	Stats progress.UserStats `json:"stats"`

	// Snapshot is the latest snapshot written by this call, if any.
	Snapshot *points.Snapshot `json:"snapshot,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// StatsComputer computes a learner's statistics.
type StatsComputer interface {
	Compute(ctx context.Context, userID string) (progress.UserStats, error)
}

// EvaluateAndGrantHandler handles the EvaluateAndGrantCommand.
type EvaluateAndGrantHandler struct {
	stats     StatsComputer
	catalog   achievement.CatalogRepository
	grants    achievement.GrantRepository
	publisher shared.EventPublisher
	retrier   *retry.Retrier
	now       func() time.Time
	newID     func() string
	logger    *slog.Logger
}

// HandlerOption configures command handlers.
type HandlerOption func(*handlerOptions)

type handlerOptions struct {
	publisher shared.EventPublisher
	retrier   *retry.Retrier
	now       func() time.Time
	newID     func() string
	logger    *slog.Logger
}

func buildOptions(opts []HandlerOption) handlerOptions {
	o := handlerOptions{
		retrier: retry.New(retry.WithMaxAttempts(1)),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithPublisher sets the domain event publisher. Nil disables events.
func WithPublisher(p shared.EventPublisher) HandlerOption {
	return func(o *handlerOptions) { o.publisher = p }
}

// WithRetrier sets the retry policy for store transactions.
// The default runs each transaction once.
func WithRetrier(r *retry.Retrier) HandlerOption {
	return func(o *handlerOptions) { o.retrier = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) HandlerOption {
	return func(o *handlerOptions) { o.now = now }
}

// WithIDGenerator overrides ID generation for grants and ledger entries.
func WithIDGenerator(fn func() string) HandlerOption {
	return func(o *handlerOptions) { o.newID = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) HandlerOption {
	return func(o *handlerOptions) { o.logger = l }
}

// NewEvaluateAndGrantHandler creates a new EvaluateAndGrantHandler.
func NewEvaluateAndGrantHandler(
	stats StatsComputer,
	catalog achievement.CatalogRepository,
	grants achievement.GrantRepository,
	opts ...HandlerOption,
) *EvaluateAndGrantHandler {
	o := buildOptions(opts)
	return &EvaluateAndGrantHandler{
		stats:     stats,
		catalog:   catalog,
		grants:    grants,
		publisher: o.publisher,
		retrier:   o.retrier,
		now:       o.now,
		newID:     o.newID,
		logger:    o.logger.With("component", "evaluator"),
	}
}

// Handle executes the evaluation. Stats, catalog and earned-set read failures
// abort before anything is written. After that every candidate is processed
// independently: a failed write is recorded in Failures and the loop moves on.
func (h *EvaluateAndGrantHandler) Handle(ctx context.Context, cmd EvaluateAndGrantCommand) (*EvaluateResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	stats, err := h.stats.Compute(ctx, cmd.UserID)
	if err != nil {
		if !errors.Is(err, shared.ErrStatsUnavailable) {
			err = shared.ErrStatsUnavailable.Wrap(err)
		}
		return nil, err
	}

	candidates, err := h.catalog.ListApplicable(ctx, cmd.CourseID)
	if err != nil {
		if !errors.Is(err, shared.ErrCatalogUnavailable) {
			err = shared.ErrCatalogUnavailable.Wrap(err)
		}
		return nil, err
	}

	earned, err := h.grants.EarnedIDs(ctx, cmd.UserID)
	if err != nil {
		return nil, shared.ErrGrantsUnavailable.Wrap(err)
	}

	result := &EvaluateResult{
		UserID:   cmd.UserID,
		CourseID: cmd.CourseID,
		Granted:  []achievement.Achievement{},
		Stats:    stats,
	}

	for _, a := range achievement.Satisfied(candidates, earned, stats) {
		granted, res, err := h.grant(ctx, cmd, a, stats)
		if err != nil {
			h.logger.Error("grant failed",
				"user_id", cmd.UserID,
				"achievement_id", a.ID,
				"error", err,
			)
			result.Failures = append(result.Failures, GrantFailure{
				Achievement: a,
				Err:         shared.ErrPartialGrantFailure.Wrap(err),
			})
			continue
		}
		if !granted {
			h.logger.Debug("grant already present",
				"user_id", cmd.UserID,
				"achievement_id", a.ID,
			)
			continue
		}

		result.Granted = append(result.Granted, a)
		if res.SnapshotErr != nil {
			h.logger.Warn("snapshot lags ledger",
				"user_id", cmd.UserID,
				"achievement_id", a.ID,
				"error", res.SnapshotErr,
			)
		} else {
			result.Snapshot = res.Change.Snapshot
		}
		h.publishGrant(cmd, a, res.Change)
	}

	if len(result.Granted) > 0 {
		h.logger.Info("achievements granted",
			"user_id", cmd.UserID,
			"course_id", cmd.CourseID,
			"count", len(result.Granted),
		)
	}
	return result, nil
}

// grant writes one grant with its ledger entry. The whole transaction is
// retried on transient store errors; a duplicate pair reports granted=false.
func (h *EvaluateAndGrantHandler) grant(
	ctx context.Context,
	cmd EvaluateAndGrantCommand,
	a achievement.Achievement,
	stats progress.UserStats,
) (bool, points.CreditResult, error) {
	now := h.now()

	g := achievement.Grant{
		ID:            h.newID(),
		UserID:        cmd.UserID,
		AchievementID: a.ID,
		CourseID:      a.CourseID,
		EarnedAt:      now,
		IsCompleted:   true,
		Progress:      100,
	}
	if !a.IsGlobal() {
		g.EnrollmentID = cmd.EnrollmentID
	}

	entry := points.LedgerEntry{
		ID:            h.newID(),
		UserID:        cmd.UserID,
		Points:        a.Points,
		Action:        points.ActionAchievementEarned,
		Description:   points.Describe(a.Title),
		AchievementID: a.ID,
		CreatedAt:     now,
	}

	delta := points.SnapshotDelta{
		UserID:             cmd.UserID,
		Points:             a.Points,
		AchievementsEarned: 1,
		Observed:           true,
		CoursesCompleted:   stats.CoursesCompleted,
		LessonsCompleted:   stats.LessonsCompleted,
		CurrentStreak:      stats.CurrentStreak,
		At:                 now,
	}

	var (
		granted bool
		res     points.CreditResult
	)
	err := h.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		granted, res, err = h.grants.GrantWithPoints(ctx, g, entry, delta)
		return err
	})
	return granted, res, err
}

func (h *EvaluateAndGrantHandler) publishGrant(cmd EvaluateAndGrantCommand, a achievement.Achievement, change points.SnapshotChange) {
	if h.publisher == nil {
		return
	}
	now := h.now()

	events := []shared.Event{
		shared.NewAchievementGrantedEvent(cmd.UserID, a.ID, a.Title, a.CourseID, a.Points, now),
		shared.NewPointsAwardedEvent(cmd.UserID, a.Points, string(points.ActionAchievementEarned), now),
	}
	if change.LevelChanged() {
		events = append(events, shared.NewLevelChangedEvent(cmd.UserID, change.OldLevel, change.Snapshot.CurrentLevel, now))
	}
	for _, e := range events {
		if err := h.publisher.Publish(e); err != nil {
			h.logger.Warn("failed to publish event", "event_type", e.EventType(), "error", err)
		}
	}
}
