// Package stats computes a learner's measurable statistics from raw progress
// records and the activity log.
package stats

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/achievement-engine/internal/domain/progress"
	"github.com/alem-hub/achievement-engine/internal/domain/shared"
	"github.com/alem-hub/achievement-engine/pkg/circuitbreaker"
	"github.com/alem-hub/achievement-engine/pkg/timeutil"
)

// Aggregator implements computeStats. Progress reads are required; the
// activity signals are optional and degrade to zero.
type Aggregator struct {
	reader   progress.Reader
	activity progress.ActivitySource
	breaker  *circuitbreaker.CircuitBreaker
	calendar timeutil.Calendar
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithActivity sets the activity log collaborator and its breaker.
// A nil breaker calls the source directly.
func WithActivity(src progress.ActivitySource, breaker *circuitbreaker.CircuitBreaker) Option {
	return func(a *Aggregator) {
		a.activity = src
		a.breaker = breaker
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) { a.logger = l }
}

// NewAggregator creates a stats aggregator.
func NewAggregator(reader progress.Reader, calendar timeutil.Calendar, opts ...Option) *Aggregator {
	a := &Aggregator{
		reader:   reader,
		calendar: calendar,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Compute returns the user's current statistics. Any progress read failure
// fails the whole call with shared.ErrStatsUnavailable.
func (a *Aggregator) Compute(ctx context.Context, userID string) (progress.UserStats, error) {
	now := a.now()
	stats := progress.UserStats{UserID: userID, ComputedAt: now}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := a.reader.CountCompletedLessons(gctx, userID)
		stats.LessonsCompleted = n
		return err
	})
	g.Go(func() error {
		n, err := a.reader.CountCompletedCourses(gctx, userID)
		stats.CoursesCompleted = n
		return err
	})
	g.Go(func() error {
		q, err := a.reader.QuizScores(gctx, userID)
		stats.AverageQuizScore = q.Average()
		return err
	})
	if err := g.Wait(); err != nil {
		return progress.UserStats{}, shared.ErrStatsUnavailable.Wrap(err)
	}

	stats.StudyHours, stats.CurrentStreak = a.activitySignals(ctx, userID, a.calendar.In(now))
	return stats, nil
}

// activitySignals reads study hours and streak. Errors and an open breaker
// yield zero for the affected signal.
func (a *Aggregator) activitySignals(ctx context.Context, userID string, today time.Time) (float64, int) {
	if a.activity == nil {
		return 0, 0
	}

	hours, err := call(ctx, a.breaker, func(ctx context.Context) (float64, error) {
		return a.activity.StudyHours(ctx, userID)
	})
	if err != nil {
		a.logger.Warn("study hours unavailable", "user_id", userID, "error", err)
		hours = 0
	}

	streak, err := call(ctx, a.breaker, func(ctx context.Context) (int, error) {
		return a.activity.CurrentStreak(ctx, userID, today)
	})
	if err != nil {
		a.logger.Warn("study streak unavailable", "user_id", userID, "error", err)
		streak = 0
	}
	return hours, streak
}

func call[T any](ctx context.Context, cb *circuitbreaker.CircuitBreaker, fn func(context.Context) (T, error)) (T, error) {
	if cb == nil {
		return fn(ctx)
	}
	return circuitbreaker.Call(ctx, cb, fn)
}
