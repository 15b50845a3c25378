package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/achievement-engine/internal/application/command"
	"github.com/alem-hub/achievement-engine/internal/application/query"
	"github.com/alem-hub/achievement-engine/internal/domain/achievement"
	"github.com/alem-hub/achievement-engine/internal/domain/leaderboard"
	"github.com/alem-hub/achievement-engine/internal/domain/points"
	"github.com/alem-hub/achievement-engine/internal/domain/shared"
	"github.com/alem-hub/achievement-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAKES
// ══════════════════════════════════════════════════════════════════════════════

type fakeEvaluator struct {
	got command.EvaluateAndGrantCommand
	res *command.EvaluateResult
	err error
}

func (f *fakeEvaluator) Handle(_ context.Context, cmd command.EvaluateAndGrantCommand) (*command.EvaluateResult, error) {
	f.got = cmd
	return f.res, f.err
}

type fakeAchievements struct {
	err error
}

func (f *fakeAchievements) Handle(_ context.Context, userID string) (*query.UserAchievementsResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &query.UserAchievementsResult{UserID: userID, Level: points.Progress(120)}, nil
}

type fakeProgress struct{}

func (fakeProgress) Handle(context.Context, string) ([]query.CourseProgressView, error) {
	return nil, nil
}

type fakeBoard struct {
	got query.GetLeaderboardQuery
}

func (f *fakeBoard) Handle(_ context.Context, q query.GetLeaderboardQuery) (*query.GetLeaderboardResult, error) {
	f.got = q
	period, err := leaderboard.ParsePeriod(q.Period)
	if err != nil {
		return nil, err
	}
	return &query.GetLeaderboardResult{
		Period:  period,
		Entries: []leaderboard.Entry{{Rank: 1, UserID: "u1", Points: 50}},
	}, nil
}

type testServer struct {
	*Server
	eval   *fakeEvaluator
	achv   *fakeAchievements
	board  *fakeBoard
	health *HealthChecker
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithLogger(t, logger.Discard())
}

func newTestServerWithLogger(t *testing.T, log *slog.Logger) *testServer {
	t.Helper()
	ts := &testServer{
		eval:   &fakeEvaluator{res: &command.EvaluateResult{}},
		achv:   &fakeAchievements{},
		board:  &fakeBoard{},
		health: NewHealthChecker("test"),
	}
	ts.Server = NewServer(DefaultConfig(), Dependencies{
		Evaluate:       ts.eval,
		Achievements:   ts.achv,
		CourseProgress: fakeProgress{},
		Leaderboard:    ts.board,
		Health:         ts.health,
		Logger:         log,
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, target, body string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := ts.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func decodeError(t *testing.T, data []byte) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(data, &e))
	return e
}

// ══════════════════════════════════════════════════════════════════════════════
// TESTS
// ══════════════════════════════════════════════════════════════════════════════

func TestEvaluate_PassesScopeAndReportsFailures(t *testing.T) {
	ts := newTestServer(t)
	ts.eval.res = &command.EvaluateResult{
		UserID:   "u1",
		CourseID: "c1",
		Granted:  []achievement.Achievement{{ID: "a1", Title: "First"}},
		Failures: []command.GrantFailure{{
			Achievement: achievement.Achievement{ID: "a2", Title: "Second"},
			Err:         shared.ErrPartialGrantFailure,
		}},
	}

	status, body := ts.do(t, http.MethodPost, "/v1/users/u1/evaluations?course_id=c1", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "u1", ts.eval.got.UserID)
	assert.Equal(t, "c1", ts.eval.got.CourseID)
	assert.Empty(t, ts.eval.got.EnrollmentID)

	var out struct {
		Granted []achievement.Achievement `json:"granted"`
		Failed  []failedGrant             `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.Granted, 1)
	assert.Equal(t, "a1", out.Granted[0].ID)
	require.Len(t, out.Failed, 1)
	assert.Equal(t, "a2", out.Failed[0].AchievementID)
}

func TestEvaluate_EnrollmentID(t *testing.T) {
	ts := newTestServer(t)

	status, _ := ts.do(t, http.MethodPost, "/v1/users/u1/evaluations?course_id=c1&enrollment_id=enr-1", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "c1", ts.eval.got.CourseID)
	assert.Equal(t, "enr-1", ts.eval.got.EnrollmentID)

	// An enrollment only makes sense inside a course scope.
	status, body := ts.do(t, http.MethodPost, "/v1/users/u1/evaluations?enrollment_id=enr-1", "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, CodeValidation, decodeError(t, body).Code)
}

func TestAccessLogRecordsErrorStatus(t *testing.T) {
	var buf bytes.Buffer
	ts := newTestServerWithLogger(t, logger.New("debug", "json", &buf))
	ts.eval.err = shared.ErrStatsUnavailable.Wrap(errors.New("connection refused"))

	status, _ := ts.do(t, http.MethodPost, "/v1/users/u1/evaluations", "")
	require.Equal(t, http.StatusServiceUnavailable, status)
	status, _ = ts.do(t, http.MethodGet, "/v1/leaderboards/yearly", "")
	require.Equal(t, http.StatusBadRequest, status)
	status, _ = ts.do(t, http.MethodGet, "/v1/leaderboards/weekly", "")
	require.Equal(t, http.StatusOK, status)

	type accessLine struct {
		Level  string `json:"level"`
		Msg    string `json:"msg"`
		Path   string `json:"path"`
		Status int    `json:"status"`
	}
	var lines []accessLine
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var l accessLine
		require.NoError(t, dec.Decode(&l))
		if l.Msg == "http request" {
			lines = append(lines, l)
		}
	}
	require.Len(t, lines, 3)
	assert.Equal(t, accessLine{Level: "WARN", Msg: "http request", Path: "/v1/users/u1/evaluations", Status: 503}, lines[0])
	assert.Equal(t, accessLine{Level: "INFO", Msg: "http request", Path: "/v1/leaderboards/yearly", Status: 400}, lines[1])
	assert.Equal(t, accessLine{Level: "INFO", Msg: "http request", Path: "/v1/leaderboards/weekly", Status: 200}, lines[2])
}

func TestEvaluate_UnavailableMapsTo503(t *testing.T) {
	ts := newTestServer(t)
	ts.eval.err = shared.ErrStatsUnavailable.Wrap(errors.New("connection refused"))

	status, body := ts.do(t, http.MethodPost, "/v1/users/u1/evaluations", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)

	e := decodeError(t, body)
	assert.Equal(t, CodeUnavailable, e.Code)
	assert.Equal(t, http.StatusServiceUnavailable, e.Status)
	assert.NotContains(t, e.Message, "connection refused")
}

func TestUnexpectedErrorMapsTo500(t *testing.T) {
	ts := newTestServer(t)
	ts.achv.err = errors.New("boom")

	status, body := ts.do(t, http.MethodGet, "/v1/users/u1/achievements", "")
	assert.Equal(t, http.StatusInternalServerError, status)
	e := decodeError(t, body)
	assert.Equal(t, CodeInternal, e.Code)
	assert.Equal(t, "internal error", e.Message)
}

func TestUserAchievements(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, http.MethodGet, "/v1/users/u1/achievements", "")
	require.Equal(t, http.StatusOK, status)

	var out query.UserAchievementsResult
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "u1", out.UserID)
	assert.Equal(t, 2, out.Level.Level)
}

func TestCourseProgress_EmptyIsArray(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, http.MethodGet, "/v1/users/u1/course-progress", "")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"user_id":"u1","courses":[]}`, string(body))
}

func TestLeaderboard(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, http.MethodGet, "/v1/leaderboards/weekly?limit=5", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "weekly", ts.board.got.Period)
	assert.Equal(t, 5, ts.board.got.Limit)

	var out query.GetLeaderboardResult
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.Entries, 1)
	assert.Equal(t, "u1", out.Entries[0].UserID)
}

func TestLeaderboard_Validation(t *testing.T) {
	ts := newTestServer(t)

	for _, target := range []string{
		"/v1/leaderboards/yearly",
		"/v1/leaderboards/weekly?limit=-1",
		"/v1/leaderboards/weekly?limit=ten",
	} {
		status, body := ts.do(t, http.MethodGet, target, "")
		assert.Equal(t, http.StatusBadRequest, status, target)
		assert.Equal(t, CodeValidation, decodeError(t, body).Code, target)
	}
}

func TestLedgerHasNoHTTPWriteRoute(t *testing.T) {
	ts := newTestServer(t)

	status, _ := ts.do(t, http.MethodPost, "/v1/users/u1/points", `{"points":15}`)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	ts.health.AddCheck("store", func(context.Context) error { return nil })

	status, _ := ts.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, status)

	ts.health.AddCheck("cache", func(context.Context) error { return errors.New("down") })
	status, body := ts.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)

	var hs HealthStatus
	require.NoError(t, json.Unmarshal(body, &hs))
	assert.False(t, hs.Healthy)
	assert.True(t, hs.Checks["store"].Healthy)
	assert.Equal(t, "down", hs.Checks["cache"].Message)
}

func TestHealthChecker_TimesOutSlowChecks(t *testing.T) {
	h := NewHealthChecker("")
	h.SetTimeout(20 * time.Millisecond)
	h.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	status := h.Check(context.Background())
	assert.False(t, status.Healthy)
	assert.Equal(t, "failed: slow", status.Message)
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, http.MethodGet, "/v1/nope", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, CodeNotFound, decodeError(t, body).Code)
}
