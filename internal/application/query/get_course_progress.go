package query

import (
	"context"
	"log/slog"

	"github.com/alem-hub/achievement-engine/internal/domain/achievement"
	"github.com/alem-hub/achievement-engine/internal/domain/progress"
	"github.com/alem-hub/achievement-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET COURSE PROGRESS QUERY
// One view per active enrollment: lesson counts, the grants scoped to the
// course and a hint for the next achievement to chase.
// ══════════════════════════════════════════════════════════════════════════════

// CourseProgressView is a presentation aggregate. It is not persisted.
type CourseProgressView struct {
	EnrollmentID     string `json:"enrollment_id"`
	CourseID         string `json:"course_id"`
	CourseTitle      string `json:"course_title"`
	Progress         int    `json:"progress"`
	LessonsCompleted int    `json:"lessons_completed"`
	LessonsTotal     int    `json:"lessons_total"`

	Achievements []achievement.EarnedAchievement `json:"achievements"`
	PointsEarned int                             `json:"points_earned"`

	// NextAchievement is nil when every applicable achievement is earned.
	NextAchievement *achievement.Achievement `json:"next_achievement"`

	// NextAchievementProgress is 0-100 progress towards NextAchievement. It
	// is omitted when there is no next achievement or stats are unavailable.
	NextAchievementProgress *int `json:"next_achievement_progress,omitempty"`
}

// StatsComputer computes the statistics requirements are checked against.
type StatsComputer interface {
	Compute(ctx context.Context, userID string) (progress.UserStats, error)
}

// GetCourseProgressHandler composes course progress views.
type GetCourseProgressHandler struct {
	enrollments progress.EnrollmentReader
	catalog     achievement.CatalogRepository
	grants      achievement.GrantRepository
	stats       StatsComputer
	logger      *slog.Logger
}

// CourseProgressOption configures a GetCourseProgressHandler.
type CourseProgressOption func(*GetCourseProgressHandler)

// WithNextAchievementProgress fills NextAchievementProgress from stats.
func WithNextAchievementProgress(stats StatsComputer) CourseProgressOption {
	return func(h *GetCourseProgressHandler) { h.stats = stats }
}

// WithCourseProgressLogger sets the logger.
func WithCourseProgressLogger(l *slog.Logger) CourseProgressOption {
	return func(h *GetCourseProgressHandler) { h.logger = l }
}

// NewGetCourseProgressHandler creates a new GetCourseProgressHandler.
func NewGetCourseProgressHandler(
	enrollments progress.EnrollmentReader,
	catalog achievement.CatalogRepository,
	grants achievement.GrantRepository,
	opts ...CourseProgressOption,
) *GetCourseProgressHandler {
	h := &GetCourseProgressHandler{
		enrollments: enrollments,
		catalog:     catalog,
		grants:      grants,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle returns one view per active enrollment, ordered by course.
func (h *GetCourseProgressHandler) Handle(ctx context.Context, userID string) ([]CourseProgressView, error) {
	if userID == "" {
		return nil, shared.ErrInvalidUserID
	}

	enrollments, err := h.enrollments.ListActiveEnrollments(ctx, userID)
	if err != nil {
		return nil, shared.ErrProgressUnavailable.Wrap(err)
	}
	views := make([]CourseProgressView, 0, len(enrollments))
	if len(enrollments) == 0 {
		return views, nil
	}

	courseIDs := make([]string, len(enrollments))
	for i, e := range enrollments {
		courseIDs[i] = e.CourseID
	}
	counts, err := h.enrollments.LessonCountsByCourse(ctx, userID, courseIDs)
	if err != nil {
		return nil, shared.ErrProgressUnavailable.Wrap(err)
	}

	earnedList, err := h.grants.ListEarned(ctx, userID)
	if err != nil {
		return nil, shared.ErrProgressUnavailable.Wrap(err)
	}
	earned := make(map[string]struct{}, len(earnedList))
	byCourse := make(map[string][]achievement.EarnedAchievement)
	for _, ea := range earnedList {
		earned[ea.AchievementID] = struct{}{}
		if ea.Achievement.CourseID != "" {
			byCourse[ea.Achievement.CourseID] = append(byCourse[ea.Achievement.CourseID], ea)
		}
	}

	for _, e := range enrollments {
		candidates, err := h.catalog.ListApplicable(ctx, e.CourseID)
		if err != nil {
			return nil, err
		}

		view := CourseProgressView{
			EnrollmentID:     e.ID,
			CourseID:         e.CourseID,
			CourseTitle:      e.CourseTitle,
			Progress:         e.Progress,
			LessonsCompleted: counts[e.CourseID].Completed,
			LessonsTotal:     counts[e.CourseID].Total,
			Achievements:     byCourse[e.CourseID],
			NextAchievement:  achievement.Next(candidates, earned),
		}
		if view.Achievements == nil {
			view.Achievements = []achievement.EarnedAchievement{}
		}
		for _, ea := range view.Achievements {
			view.PointsEarned += ea.Achievement.Points
		}
		views = append(views, view)
	}

	h.fillNextProgress(ctx, userID, views)
	return views, nil
}

// fillNextProgress computes stats once for the user. A stats failure leaves
// the hint out rather than failing the view.
func (h *GetCourseProgressHandler) fillNextProgress(ctx context.Context, userID string, views []CourseProgressView) {
	if h.stats == nil {
		return
	}
	var stats *progress.UserStats
	for i := range views {
		next := views[i].NextAchievement
		if next == nil {
			continue
		}
		if stats == nil {
			s, err := h.stats.Compute(ctx, userID)
			if err != nil {
				h.logger.Warn("next achievement progress skipped", "user_id", userID, "error", err)
				return
			}
			stats = &s
		}
		pct := next.ProgressFor(*stats)
		views[i].NextAchievementProgress = &pct
	}
}
