// Package achievement contains the achievement catalog model, grants and the
// requirement matcher table used by the grant evaluator.
package achievement

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/achievement-engine/internal/domain/points"
	"github.com/alem-hub/achievement-engine/internal/domain/progress"
	"github.com/alem-hub/achievement-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Category groups achievements for display.
type Category string

const (
	CategoryLearning      Category = "learning"
	CategoryParticipation Category = "participation"
	CategoryExcellence    Category = "excellence"
	CategoryCompletion    Category = "completion"
)

// IsValid reports whether c is a known category.
func (c Category) IsValid() bool {
	switch c {
	case CategoryLearning, CategoryParticipation, CategoryExcellence, CategoryCompletion:
		return true
	}
	return false
}

// RequirementType is the statistic an achievement threshold is compared against.
type RequirementType string

const (
	RequirementLessonsCompleted RequirementType = "lessons_completed"
	RequirementCoursesCompleted RequirementType = "courses_completed"
	RequirementStudyHours       RequirementType = "study_hours"
	RequirementQuizScore        RequirementType = "quiz_score"
	RequirementStudyStreak      RequirementType = "study_streak"
)

// ParseRequirementType converts a stored value into a RequirementType.
// Unknown values are rejected instead of silently never matching.
func ParseRequirementType(s string) (RequirementType, error) {
	rt := RequirementType(s)
	if _, ok := matchers[rt]; !ok {
		return "", shared.ErrInvalidRequirement.Wrap(fmt.Errorf("%q", s))
	}
	return rt, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT
// ══════════════════════════════════════════════════════════════════════════════

// Achievement is a catalog entry. It is immutable once referenced by a grant
// and is never created or edited by the engine.
type Achievement struct {
	ID               string          `json:"id"`
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	Category         Category        `json:"category"`
	Points           int             `json:"points"`
	RequirementType  RequirementType `json:"requirement_type"`
	RequirementValue float64         `json:"requirement_value"`
	CourseID         string          `json:"course_id,omitempty"` // empty = global
	Position         int             `json:"-"`                   // catalog insertion order
	CreatedAt        time.Time       `json:"created_at"`
}

// IsGlobal reports whether the achievement applies to every course.
func (a *Achievement) IsGlobal() bool {
	return a.CourseID == ""
}

// AppliesTo reports whether the achievement is a candidate for the scope.
// An empty courseID is the global-only scope.
func (a *Achievement) AppliesTo(courseID string) bool {
	return a.IsGlobal() || (courseID != "" && a.CourseID == courseID)
}

// IsSatisfiedBy evaluates the requirement predicate against stats.
func (a *Achievement) IsSatisfiedBy(stats progress.UserStats) bool {
	m, ok := matchers[a.RequirementType]
	if !ok {
		return false
	}
	return m(stats) >= a.RequirementValue
}

// ProgressFor returns 0-100 progress towards the requirement.
func (a *Achievement) ProgressFor(stats progress.UserStats) int {
	m, ok := matchers[a.RequirementType]
	if !ok {
		return 0
	}
	if a.RequirementValue <= 0 {
		return 100
	}
	pct := int(m(stats) / a.RequirementValue * 100)
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return pct
}

// ══════════════════════════════════════════════════════════════════════════════
// GRANT
// ══════════════════════════════════════════════════════════════════════════════

// Grant records that a user satisfied and earned an achievement.
// At most one completed grant exists per (UserID, AchievementID).
type Grant struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	AchievementID string    `json:"achievement_id"`
	CourseID      string    `json:"course_id,omitempty"`
	EnrollmentID  string    `json:"enrollment_id,omitempty"`
	EarnedAt      time.Time `json:"earned_at"`
	IsCompleted   bool      `json:"is_completed"`
	Progress      int       `json:"progress"`
}

// EarnedAchievement joins a grant with its catalog entry for display.
type EarnedAchievement struct {
	Grant
	Achievement Achievement `json:"achievement"`
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORIES
// ══════════════════════════════════════════════════════════════════════════════

// CatalogRepository reads achievement definitions.
type CatalogRepository interface {
	// ListApplicable returns global achievements plus those scoped to courseID,
	// in catalog insertion order. An empty courseID returns global ones only.
	ListApplicable(ctx context.Context, courseID string) ([]Achievement, error)

	// ListAll returns the whole catalog in insertion order.
	ListAll(ctx context.Context) ([]Achievement, error)
}

// GrantRepository writes and reads grants.
type GrantRepository interface {
	// EarnedIDs returns the achievement IDs already granted to the user.
	EarnedIDs(ctx context.Context, userID string) (map[string]struct{}, error)

	// GrantWithPoints inserts the grant, credits entry and applies delta in
	// one transaction. A duplicate (user, achievement) pair is a no-op that
	// reports granted=false and writes neither ledger entry nor snapshot.
	GrantWithPoints(ctx context.Context, grant Grant, entry points.LedgerEntry, delta points.SnapshotDelta) (granted bool, res points.CreditResult, err error)

	// ListEarned returns the user's grants joined with their catalog entries,
	// newest first.
	ListEarned(ctx context.Context, userID string) ([]EarnedAchievement, error)
}
