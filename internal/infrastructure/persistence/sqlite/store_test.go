package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/achievement-engine/internal/domain/achievement"
	"github.com/alem-hub/achievement-engine/internal/domain/leaderboard"
	"github.com/alem-hub/achievement-engine/internal/domain/points"
	"github.com/alem-hub/achievement-engine/internal/domain/shared"
)

var t0 = time.Date(2026, 5, 6, 10, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedAchievement(t *testing.T, s *Store, id string, pts int, reqType string, reqValue float64, courseID string, position int) {
	t.Helper()
	var course any
	if courseID != "" {
		course = courseID
	}
	_, err := s.DB().Exec(`
		INSERT INTO achievements
			(id, title, description, category, points, requirement_type, requirement_value, course_id, position, created_at)
		VALUES (?, ?, '', 'learning', ?, ?, ?, ?, ?, ?)`,
		id, "Title "+id, pts, reqType, reqValue, course, position, toMillis(t0))
	require.NoError(t, err)
}

func ledgerEntry(id, userID string, pts int, at time.Time) points.LedgerEntry {
	return points.LedgerEntry{
		ID:        id,
		UserID:    userID,
		Points:    pts,
		Action:    points.ActionManualAdjustment,
		CreatedAt: at,
	}
}

func credit(t *testing.T, s *Store, userID string, pts int, at time.Time) points.CreditResult {
	t.Helper()
	res, err := s.Credit(context.Background(),
		ledgerEntry(fmt.Sprintf("%s-%d", userID, at.UnixNano()), userID, pts, at),
		points.SnapshotDelta{UserID: userID, Points: pts, At: at})
	require.NoError(t, err)
	require.NoError(t, res.SnapshotErr)
	return res
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG & GRANTS
// ══════════════════════════════════════════════════════════════════════════════

func TestListApplicable_Scope(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedAchievement(t, s, "g1", 10, "lessons_completed", 1, "", 1)
	seedAchievement(t, s, "c1", 20, "lessons_completed", 1, "course-1", 2)
	seedAchievement(t, s, "c2", 30, "lessons_completed", 1, "course-2", 3)
	seedAchievement(t, s, "g2", 40, "study_streak", 3, "", 4)

	ids := func(list []achievement.Achievement) []string {
		out := make([]string, len(list))
		for i, a := range list {
			out[i] = a.ID
		}
		return out
	}

	global, err := s.ListApplicable(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "g2"}, ids(global))

	scoped, err := s.ListApplicable(ctx, "course-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "c1", "g2"}, ids(scoped))

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "c1", "c2", "g2"}, ids(all))
	assert.Equal(t, achievement.RequirementStudyStreak, all[3].RequirementType)
	assert.Equal(t, "course-2", all[2].CourseID)
}

func TestGrantWithPoints_DuplicateIsNoOp(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedAchievement(t, s, "a1", 50, "lessons_completed", 1, "", 1)

	grant := func(id string) (bool, points.CreditResult) {
		g := achievement.Grant{ID: "g-" + id, UserID: "u1", AchievementID: "a1", EarnedAt: t0, IsCompleted: true, Progress: 100}
		e := ledgerEntry("e-"+id, "u1", 50, t0)
		e.Action = points.ActionAchievementEarned
		e.AchievementID = "a1"
		d := points.SnapshotDelta{UserID: "u1", Points: 50, AchievementsEarned: 1, At: t0}
		ok, res, err := s.GrantWithPoints(ctx, g, e, d)
		require.NoError(t, err)
		return ok, res
	}

	ok, res := grant("1")
	require.True(t, ok)
	require.NotNil(t, res.Change.Snapshot)
	assert.Equal(t, 50, res.Change.Snapshot.TotalPoints)

	ok, res = grant("2")
	assert.False(t, ok)
	assert.Nil(t, res.Change.Snapshot)

	sum, err := s.SumByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 50, sum)

	snap, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 50, snap.TotalPoints)
	assert.Equal(t, 1, snap.AchievementsEarned)

	earned, err := s.EarnedIDs(ctx, "u1")
	require.NoError(t, err)
	assert.Contains(t, earned, "a1")
	assert.Len(t, earned, 1)
}

func TestListEarned_NewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedAchievement(t, s, "a1", 10, "lessons_completed", 1, "", 1)
	seedAchievement(t, s, "a2", 20, "lessons_completed", 2, "course-1", 2)

	for i, id := range []string{"a1", "a2"} {
		at := t0.Add(time.Duration(i) * time.Hour)
		g := achievement.Grant{ID: "g-" + id, UserID: "u1", AchievementID: id, EarnedAt: at, IsCompleted: true, Progress: 100}
		if id == "a2" {
			g.CourseID, g.EnrollmentID = "course-1", "enr-1"
		}
		_, _, err := s.GrantWithPoints(ctx, g, ledgerEntry("e-"+id, "u1", 10, at),
			points.SnapshotDelta{UserID: "u1", Points: 10, AchievementsEarned: 1, At: at})
		require.NoError(t, err)
	}

	list, err := s.ListEarned(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a2", list[0].AchievementID)
	assert.Equal(t, "enr-1", list[0].EnrollmentID)
	assert.Equal(t, "Title a2", list[0].Achievement.Title)
	assert.True(t, list[0].EarnedAt.Equal(t0.Add(time.Hour)))
	assert.Equal(t, "a1", list[1].AchievementID)
	assert.Empty(t, list[1].CourseID)
}

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER & SNAPSHOTS
// ══════════════════════════════════════════════════════════════════════════════

func TestGet_MissingSnapshot(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCredit_LevelFollowsStaircase(t *testing.T) {
	s := newTestStore(t)

	res := credit(t, s, "u1", 99, t0)
	assert.Equal(t, 1, res.Change.Snapshot.CurrentLevel)
	assert.False(t, res.Change.LevelChanged())

	res = credit(t, s, "u1", 1, t0.Add(time.Second))
	assert.Equal(t, 100, res.Change.Snapshot.TotalPoints)
	assert.Equal(t, 2, res.Change.Snapshot.CurrentLevel)
	assert.Equal(t, 1, res.Change.OldLevel)
	assert.True(t, res.Change.LevelChanged())

	res = credit(t, s, "u1", 9900, t0.Add(2*time.Second))
	assert.Equal(t, 10000, res.Change.Snapshot.TotalPoints)
	assert.Equal(t, points.MaxLevel, res.Change.Snapshot.CurrentLevel)

	for _, total := range []int{0, 99, 100, 249, 250, 999, 1000, 4999, 5000, 9999, 10000} {
		id := fmt.Sprintf("lvl-%d", total)
		res := credit(t, s, id, total, t0)
		assert.Equal(t, points.LevelFor(total), res.Change.Snapshot.CurrentLevel, "total %d", total)
	}
}

func TestCredit_ObservedCountersNeverRegress(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	apply := func(id string, d points.SnapshotDelta) *points.Snapshot {
		d.UserID, d.At = "u1", t0
		res, err := s.Credit(ctx, ledgerEntry(id, "u1", d.Points, t0), d)
		require.NoError(t, err)
		require.NoError(t, res.SnapshotErr)
		return res.Change.Snapshot
	}

	snap := apply("e1", points.SnapshotDelta{Points: 5, Observed: true, LessonsCompleted: 5, CoursesCompleted: 1, CurrentStreak: 4})
	assert.Equal(t, 5, snap.LessonsCompleted)
	assert.Equal(t, 4, snap.CurrentStreak)

	snap = apply("e2", points.SnapshotDelta{Points: 5})
	assert.Equal(t, 5, snap.LessonsCompleted)
	assert.Equal(t, 1, snap.CoursesCompleted)
	assert.Equal(t, 4, snap.CurrentStreak)

	snap = apply("e3", points.SnapshotDelta{Points: 5, Observed: true, LessonsCompleted: 3, CoursesCompleted: 0, CurrentStreak: 1})
	assert.Equal(t, 5, snap.LessonsCompleted)
	assert.Equal(t, 1, snap.CoursesCompleted)
	assert.Equal(t, 1, snap.CurrentStreak)
	assert.Equal(t, 15, snap.TotalPoints)
}

func TestCredit_DuplicateEntryID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	e := ledgerEntry("same", "u1", 10, t0)
	_, err := s.Credit(ctx, e, points.SnapshotDelta{UserID: "u1", Points: 10, At: t0})
	require.NoError(t, err)

	_, err = s.Credit(ctx, e, points.SnapshotDelta{UserID: "u1", Points: 10, At: t0})
	assert.ErrorIs(t, err, shared.ErrAlreadyExists)

	sum, err := s.SumByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 10, sum)
}

func TestReconcile_RepairsDrift(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedAchievement(t, s, "a1", 40, "lessons_completed", 1, "", 1)

	credit(t, s, "u1", 60, t0)
	// A ledger write that bypassed the snapshot.
	_, err := s.DB().Exec(`
		INSERT INTO points_ledger (id, user_id, points, action, description, created_at)
		VALUES ('orphan', 'u1', 90, 'manual_adjustment', '', ?)`, toMillis(t0))
	require.NoError(t, err)
	_, err = s.DB().Exec(`
		INSERT INTO user_achievements (id, user_id, achievement_id, earned_at) VALUES ('g1', 'u1', 'a1', ?)`, toMillis(t0))
	require.NoError(t, err)

	before, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 60, before.TotalPoints)

	snap, err := s.Reconcile(ctx, "u1", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 150, snap.TotalPoints)
	assert.Equal(t, 2, snap.CurrentLevel)
	assert.Equal(t, 1, snap.AchievementsEarned)
	assert.True(t, snap.UpdatedAt.Equal(t0.Add(time.Hour)))

	// Users with ledger entries but no snapshot are listed and reconciled too.
	_, err = s.DB().Exec(`
		INSERT INTO points_ledger (id, user_id, points, action, description, created_at)
		VALUES ('lonely', 'u2', 7, 'manual_adjustment', '', ?)`, toMillis(t0))
	require.NoError(t, err)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, users)

	snap, err = s.Reconcile(ctx, "u2", t0)
	require.NoError(t, err)
	assert.Equal(t, 7, snap.TotalPoints)
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD
// ══════════════════════════════════════════════════════════════════════════════

func TestAggregate_OrderAndWindow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	start := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)
	w := leaderboard.Window{Period: leaderboard.PeriodWeekly, Start: start, End: t0, Anchor: "2026-05-04"}

	credit(t, s, "carol", 100, start.Add(3*time.Hour))
	credit(t, s, "bob", 100, start.Add(1*time.Hour))
	credit(t, s, "alice", 100, start.Add(1*time.Hour))
	credit(t, s, "dave", 150, start.Add(2*time.Hour))
	credit(t, s, "erin", 500, start.Add(-time.Minute)) // before the window
	credit(t, s, "frank", 500, t0)                     // end is exclusive

	rows, err := s.Aggregate(ctx, w, 0)
	require.NoError(t, err)

	var order []string
	for _, r := range rows {
		order = append(order, r.UserID)
	}
	assert.Equal(t, []string{"dave", "alice", "bob", "carol"}, order)
	assert.True(t, rows[1].LastAt.Equal(start.Add(time.Hour)))

	top, err := s.Aggregate(ctx, w, 2)
	require.NoError(t, err)
	assert.Len(t, top, 2)

	all, err := s.Aggregate(ctx, leaderboard.Window{Period: leaderboard.PeriodAllTime, Anchor: leaderboard.AllTimeAnchor}, 0)
	require.NoError(t, err)
	require.Len(t, all, 6)
	assert.Equal(t, "erin", all[0].UserID)
	assert.Equal(t, "frank", all[1].UserID)

	// Domain ranking agrees with the SQL ordering.
	ranked := leaderboard.Rank(w, rows, 0)
	for i, e := range ranked {
		assert.Equal(t, rows[i].UserID, e.UserID)
		assert.Equal(t, i+1, e.Rank)
	}
}

func TestReplaceMaterialized(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	w := leaderboard.Window{Period: leaderboard.PeriodDaily, Start: t0.Add(-time.Hour), End: t0, Anchor: "2026-05-06"}

	first := leaderboard.Rank(w, []leaderboard.Row{
		{UserID: "a", Points: 30, LastAt: t0.Add(-time.Minute)},
		{UserID: "b", Points: 20, LastAt: t0.Add(-time.Minute)},
		{UserID: "c", Points: 10, LastAt: t0.Add(-time.Minute)},
	}, 0)
	require.NoError(t, s.ReplaceMaterialized(ctx, w, first, t0))

	second := leaderboard.Rank(w, []leaderboard.Row{
		{UserID: "c", Points: 40, LastAt: t0.Add(-time.Minute)},
	}, 0)
	require.NoError(t, s.ReplaceMaterialized(ctx, w, second, t0))

	got, err := s.FreshMaterialized(ctx, w)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].UserID)
	assert.Equal(t, 1, got[0].Rank)
	assert.Equal(t, "2026-05-06", got[0].PeriodDate)
}

func TestFreshMaterialized_LedgerWriteAfterRebuildHidesBoard(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	w := leaderboard.Window{Period: leaderboard.PeriodAllTime, Anchor: leaderboard.AllTimeAnchor}

	none, err := s.FreshMaterialized(ctx, w)
	require.NoError(t, err)
	assert.Empty(t, none)

	credit(t, s, "a", 30, t0.Add(-time.Hour))
	rows, err := s.Aggregate(ctx, w, 0)
	require.NoError(t, err)
	require.NoError(t, s.ReplaceMaterialized(ctx, w, leaderboard.Rank(w, rows, 0), t0))

	got, err := s.FreshMaterialized(ctx, w)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 30, got[0].Points)

	// Points awarded after the rebuild make the stored board stale.
	credit(t, s, "b", 50, t0.Add(time.Minute))

	got, err = s.FreshMaterialized(ctx, w)
	require.NoError(t, err)
	assert.Empty(t, got)
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS SOURCES
// ══════════════════════════════════════════════════════════════════════════════

func TestProgressReads(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	db := s.DB()

	exec := func(q string, args ...any) {
		t.Helper()
		_, err := db.Exec(q, args...)
		require.NoError(t, err)
	}
	exec(`INSERT INTO lessons (id, course_id) VALUES ('l1','c1'), ('l2','c1'), ('l3','c1'), ('l4','c2')`)
	exec(`INSERT INTO lesson_progress (user_id, lesson_id, is_completed) VALUES ('u1','l1',1), ('u1','l2',1), ('u1','l3',0), ('u1','l4',1)`)
	exec(`INSERT INTO enrollments (id, user_id, course_id, course_title, progress, is_active)
		VALUES ('e1','u1','c1','Go',66,1), ('e2','u1','c2','SQL',100,1), ('e3','u1','c3','Old',10,0)`)
	exec(`INSERT INTO quiz_results (id, user_id, score, submitted_at) VALUES ('q1','u1',80,0), ('q2','u1',100,0)`)
	exec(`INSERT INTO activity_log (user_id, activity_date, minutes)
		VALUES ('u1','2026-05-06',30), ('u1','2026-05-05',60), ('u1','2026-05-04',30), ('u1','2026-05-02',90), ('u1','2026-05-07',15)`)

	lessons, err := s.CountCompletedLessons(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, lessons)

	courses, err := s.CountCompletedCourses(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, courses)

	quiz, err := s.QuizScores(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 90.0, quiz.Average(), 1e-9)

	enrollments, err := s.ListActiveEnrollments(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, enrollments, 2)
	assert.Equal(t, "c1", enrollments[0].CourseID)
	assert.True(t, enrollments[1].IsCompleted())

	counts, err := s.LessonCountsByCourse(ctx, "u1", []string{"c1", "c2"})
	require.NoError(t, err)
	assert.Equal(t, 2, counts["c1"].Completed)
	assert.Equal(t, 3, counts["c1"].Total)
	assert.Equal(t, 1, counts["c2"].Total)

	hours, err := s.StudyHours(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 3.75, hours, 1e-9)

	// Activity dated after today is ignored.
	streak, err := s.CurrentStreak(ctx, "u1", t0)
	require.NoError(t, err)
	assert.Equal(t, 3, streak)

	streak, err = s.CurrentStreak(ctx, "u1", t0.AddDate(0, 0, 3))
	require.NoError(t, err)
	assert.Equal(t, 0, streak)
}
