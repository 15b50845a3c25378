package sqlite_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/achievement-engine/internal/application/catalog"
	"github.com/alem-hub/achievement-engine/internal/application/command"
	"github.com/alem-hub/achievement-engine/internal/application/query"
	"github.com/alem-hub/achievement-engine/internal/application/stats"
	"github.com/alem-hub/achievement-engine/internal/infrastructure/persistence/sqlite"
	"github.com/alem-hub/achievement-engine/pkg/logger"
	"github.com/alem-hub/achievement-engine/pkg/retry"
	"github.com/alem-hub/achievement-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// END-TO-END EVALUATION ON A REAL STORE
// ══════════════════════════════════════════════════════════════════════════════

var now = time.Date(2026, 5, 6, 10, 0, 0, 0, time.UTC)

type engine struct {
	store    *sqlite.Store
	evaluate *command.EvaluateAndGrantHandler
	progress *query.GetCourseProgressHandler
	user     *query.GetUserAchievementsHandler
	board    *query.GetLeaderboardHandler
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	log := logger.Discard()
	cal := timeutil.NewCalendar(time.UTC, time.Monday)
	clock := func() time.Time { return now }
	cat := catalog.NewService(store, time.Minute, catalog.WithClock(clock), catalog.WithLogger(log))
	agg := stats.NewAggregator(store, cal, stats.WithActivity(store, nil), stats.WithClock(clock), stats.WithLogger(log))

	return &engine{
		store: store,
		evaluate: command.NewEvaluateAndGrantHandler(agg, cat, store,
			command.WithClock(clock),
			command.WithLogger(log),
			command.WithRetrier(retry.New(retry.WithMaxAttempts(3), retry.WithRetryIf(sqlite.IsBusy))),
		),
		progress: query.NewGetCourseProgressHandler(store, cat, store),
		user:     query.NewGetUserAchievementsHandler(store, store, store, log),
		board:    query.NewGetLeaderboardHandler(store, nil, cal, query.WithLeaderboardClock(clock)),
	}
}

func (e *engine) exec(t *testing.T, q string, args ...any) {
	t.Helper()
	_, err := e.store.DB().Exec(q, args...)
	require.NoError(t, err)
}

// seed creates a catalog with two global achievements and one scoped to
// course c1, plus a learner with three completed lessons in c1.
func (e *engine) seed(t *testing.T) {
	t.Helper()
	created := now.Add(-24 * time.Hour).UnixMilli()
	e.exec(t, `
		INSERT INTO achievements
			(id, title, category, points, requirement_type, requirement_value, course_id, position, created_at)
		VALUES
			('first-lesson', 'First Lesson', 'learning', 10, 'lessons_completed', 1, NULL, 1, ?1),
			('ten-lessons', 'Ten Lessons', 'learning', 50, 'lessons_completed', 10, NULL, 2, ?1),
			('c1-starter', 'Course Starter', 'completion', 95, 'lessons_completed', 3, 'c1', 3, ?1),
			('quiz-master', 'Quiz Master', 'excellence', 100, 'quiz_score', 90, NULL, 4, ?1)`, created)
	e.exec(t, `INSERT INTO lessons (id, course_id) VALUES ('l1','c1'), ('l2','c1'), ('l3','c1'), ('l4','c1')`)
	e.exec(t, `INSERT INTO lesson_progress (user_id, lesson_id, is_completed) VALUES ('u1','l1',1), ('u1','l2',1), ('u1','l3',1)`)
	e.exec(t, `INSERT INTO enrollments (id, user_id, course_id, course_title, progress) VALUES ('enr-1','u1','c1','Go Basics',75)`)
	e.exec(t, `INSERT INTO quiz_results (id, user_id, score, submitted_at) VALUES ('q1','u1',70,0)`)
}

func TestEvaluate_ConcurrentCallsGrantOnce(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	e.seed(t)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted []string
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.evaluate.Handle(ctx, command.EvaluateAndGrantCommand{UserID: "u1", CourseID: "c1", EnrollmentID: "enr-1"})
			if !assert.NoError(t, err) {
				return
			}
			assert.Empty(t, res.Failures)
			mu.Lock()
			for _, a := range res.Granted {
				granted = append(granted, a.ID)
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.ElementsMatch(t, []string{"first-lesson", "c1-starter"}, granted)

	sum, err := e.store.SumByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 105, sum)

	snap, err := e.store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 105, snap.TotalPoints)
	assert.Equal(t, 2, snap.CurrentLevel)
	assert.Equal(t, 2, snap.AchievementsEarned)
	assert.Equal(t, 3, snap.LessonsCompleted)
}

func TestEvaluate_GlobalScopeSkipsCourseAchievements(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	e.seed(t)

	res, err := e.evaluate.Handle(ctx, command.EvaluateAndGrantCommand{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, res.Granted, 1)
	assert.Equal(t, "first-lesson", res.Granted[0].ID)

	// A second pass with nothing new is a no-op.
	res, err = e.evaluate.Handle(ctx, command.EvaluateAndGrantCommand{UserID: "u1"})
	require.NoError(t, err)
	assert.Empty(t, res.Granted)

	// Quiz average crosses the threshold once a new result lands.
	e.exec(t, `INSERT INTO quiz_results (id, user_id, score, submitted_at) VALUES ('q2','u1',100,0), ('q3','u1',100,0)`)
	res, err = e.evaluate.Handle(ctx, command.EvaluateAndGrantCommand{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, res.Granted, 1)
	assert.Equal(t, "quiz-master", res.Granted[0].ID)
	require.NotNil(t, res.Snapshot)
	assert.Equal(t, 110, res.Snapshot.TotalPoints)
}

func TestCourseProgressAndUserAchievements(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	e.seed(t)

	_, err := e.evaluate.Handle(ctx, command.EvaluateAndGrantCommand{UserID: "u1", CourseID: "c1", EnrollmentID: "enr-1"})
	require.NoError(t, err)

	views, err := e.progress.Handle(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, views, 1)
	v := views[0]
	assert.Equal(t, "Go Basics", v.CourseTitle)
	assert.Equal(t, 75, v.Progress)
	assert.Equal(t, 3, v.LessonsCompleted)
	assert.Equal(t, 4, v.LessonsTotal)
	require.Len(t, v.Achievements, 1)
	assert.Equal(t, "c1-starter", v.Achievements[0].AchievementID)
	assert.Equal(t, 95, v.PointsEarned)
	require.NotNil(t, v.NextAchievement)
	assert.Equal(t, "ten-lessons", v.NextAchievement.ID)

	// Drift the snapshot: the read path repairs it from the ledger.
	e.exec(t, `UPDATE user_points SET total_points = 1 WHERE user_id = 'u1'`)
	ua, err := e.user.Handle(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ua.Repaired)
	assert.Equal(t, 105, ua.Points.TotalPoints)
	assert.Equal(t, 2, ua.Level.Level)
	assert.Len(t, ua.Achievements, 2)
}

func TestLeaderboardFromLedger(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	insert := func(id, user string, pts int, at time.Time) {
		e.exec(t, `INSERT INTO points_ledger (id, user_id, points, action, created_at) VALUES (?, ?, ?, 'manual_adjustment', ?)`,
			id, user, pts, at.UnixMilli())
	}
	insert("1", "alice", 30, now.Add(-2*time.Hour))
	insert("2", "bob", 30, now.Add(-3*time.Hour))
	insert("3", "carol", 80, now.AddDate(0, 0, -2)) // Monday of this week
	insert("4", "dave", 10, now.Add(-time.Hour))

	daily, err := e.board.Handle(ctx, query.GetLeaderboardQuery{Period: "daily"})
	require.NoError(t, err)
	assert.Equal(t, "2026-05-06", daily.PeriodDate)
	var order []string
	for _, en := range daily.Entries {
		order = append(order, en.UserID)
	}
	assert.Equal(t, []string{"bob", "alice", "dave"}, order)

	weekly, err := e.board.Handle(ctx, query.GetLeaderboardQuery{Period: "weekly", Limit: 1})
	require.NoError(t, err)
	require.Len(t, weekly.Entries, 1)
	assert.Equal(t, "carol", weekly.Entries[0].UserID)
	assert.Equal(t, "2026-05-04", weekly.PeriodDate)
}
