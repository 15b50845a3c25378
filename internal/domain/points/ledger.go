package points

import (
	"context"
	"strings"
	"time"
)

// Action names the reason a ledger entry was written.
type Action string

const (
	ActionAchievementEarned Action = "achievement_earned"
	ActionLessonCompleted   Action = "lesson_completed"
	ActionQuizPassed        Action = "quiz_passed"
	ActionCourseCompleted   Action = "course_completed"
	ActionManualAdjustment  Action = "manual_adjustment"
)

// LedgerEntry is one append-only point transaction. Entries are never
// mutated or deleted.
type LedgerEntry struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Points        int       `json:"points"`
	Action        Action    `json:"action"`
	Description   string    `json:"description"`
	AchievementID string    `json:"achievement_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Snapshot is the per-user cache of aggregate totals.
// TotalPoints must equal the sum of the user's ledger entries; after a write
// failure it may lag until the next repair.
type Snapshot struct {
	UserID             string    `json:"user_id"`
	TotalPoints        int       `json:"total_points"`
	CurrentLevel       int       `json:"current_level"`
	CoursesCompleted   int       `json:"courses_completed"`
	LessonsCompleted   int       `json:"lessons_completed"`
	AchievementsEarned int       `json:"achievements_earned"`
	CurrentStreak      int       `json:"current_streak"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// EmptySnapshot is the snapshot of a user who has never earned points.
func EmptySnapshot(userID string) *Snapshot {
	return &Snapshot{UserID: userID, CurrentLevel: MinLevel}
}

// SnapshotDelta is applied atomically to a user's snapshot.
// Points and AchievementsEarned are increments. The progress counters are
// observations and are only written when Observed is set; lesson and course
// counts never move backwards, the streak is taken as observed.
type SnapshotDelta struct {
	UserID             string
	Points             int
	AchievementsEarned int
	Observed           bool
	CoursesCompleted   int
	LessonsCompleted   int
	CurrentStreak      int
	At                 time.Time
}

// SnapshotChange reports the level before and after a delta was applied.
type SnapshotChange struct {
	OldLevel int
	Snapshot *Snapshot
}

// LevelChanged reports whether the delta moved the user to another level.
func (c SnapshotChange) LevelChanged() bool {
	return c.Snapshot != nil && c.Snapshot.CurrentLevel != c.OldLevel
}

// Describe builds the ledger description for an achievement grant.
func Describe(title string) string {
	return "Achievement earned: " + strings.TrimSpace(title)
}

// CreditResult reports the outcome of the snapshot half of a credit.
// The ledger half either committed or the call returned an error.
type CreditResult struct {
	Change SnapshotChange
	// SnapshotErr is set when the entry committed but the snapshot could not
	// be updated. The snapshot then lags the ledger until repaired.
	SnapshotErr error
}

// LedgerRepository appends and aggregates point transactions.
type LedgerRepository interface {
	// Credit appends entry and then applies delta to the snapshot in the same
	// transaction. A snapshot failure is rolled back on its own and reported
	// in CreditResult while the entry still commits.
	Credit(ctx context.Context, entry LedgerEntry, delta SnapshotDelta) (CreditResult, error)

	// SumByUser returns the sum of every ledger entry of the user.
	SumByUser(ctx context.Context, userID string) (int, error)

	// ListUsers returns every user with at least one ledger entry or snapshot.
	ListUsers(ctx context.Context) ([]string, error)
}

// SnapshotRepository maintains the materialized per-user totals.
type SnapshotRepository interface {
	// Get returns the user's snapshot or shared.ErrNotFound.
	Get(ctx context.Context, userID string) (*Snapshot, error)

	// Reconcile locks the user's snapshot, recomputes total, level and
	// achievement count from the ledger and grants, and stores the result.
	Reconcile(ctx context.Context, userID string, at time.Time) (*Snapshot, error)
}
