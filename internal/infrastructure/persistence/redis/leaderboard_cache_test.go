package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/achievement-engine/internal/domain/leaderboard"
	"github.com/alem-hub/achievement-engine/internal/domain/shared"
)

func newTestCache(t *testing.T) (*LeaderboardCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLeaderboardCache(NewCacheFromClient(client), time.Minute), mr
}

func weekly() leaderboard.Window {
	start := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)
	return leaderboard.Window{
		Period: leaderboard.PeriodWeekly,
		Start:  start,
		End:    start.Add(50 * time.Hour),
		Anchor: "2026-05-04",
	}
}

func board(w leaderboard.Window, n int) []leaderboard.Entry {
	at := w.Start.Add(time.Hour)
	rows := make([]leaderboard.Row, n)
	for i := range rows {
		rows[i] = leaderboard.Row{
			UserID: string(rune('a' + i)),
			Points: 100 - i*10,
			LastAt: at.Add(time.Duration(i) * time.Minute),
		}
	}
	return leaderboard.Rank(w, rows, 0)
}

func TestLeaderboardCache_MissThenHit(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache(t)
	w := weekly()

	_, ok, err := cache.GetTop(ctx, w, 10)
	require.NoError(t, err)
	assert.False(t, ok)

	entries := board(w, 5)
	require.NoError(t, cache.SetTop(ctx, w, entries, 0))

	got, ok, err := cache.GetTop(ctx, w, 3)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, 3)
	for i, e := range got {
		assert.Equal(t, entries[i].UserID, e.UserID)
		assert.Equal(t, i+1, e.Rank)
		assert.Equal(t, entries[i].Points, e.Points)
		assert.True(t, entries[i].LastAt.Equal(e.LastAt))
	}

	all, ok, err := cache.GetTop(ctx, w, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, all, 5)
}

func TestLeaderboardCache_EmptyBoardIsAHit(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache(t)
	w := weekly()

	require.NoError(t, cache.SetTop(ctx, w, nil, 0))

	got, ok, err := cache.GetTop(ctx, w, 10)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, got)
}

func TestLeaderboardCache_SetTopReplacesBoard(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache(t)
	w := weekly()

	require.NoError(t, cache.SetTop(ctx, w, board(w, 5), 0))
	require.NoError(t, cache.SetTop(ctx, w, board(w, 2), 0))

	got, ok, err := cache.GetTop(ctx, w, 10)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, got, 2)
}

func TestLeaderboardCache_WindowsAreIsolated(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache(t)
	w := weekly()
	next := w
	next.Anchor = "2026-05-11"

	require.NoError(t, cache.SetTop(ctx, w, board(w, 3), 0))

	_, ok, err := cache.GetTop(ctx, next, 10)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLeaderboardCache_Expires(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestCache(t)
	w := weekly()

	require.NoError(t, cache.SetTop(ctx, w, board(w, 3), 0))
	mr.FastForward(2 * time.Minute)

	_, ok, err := cache.GetTop(ctx, w, 10)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLeaderboardCache_InvalidateAll(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestCache(t)
	w := weekly()
	daily := leaderboard.Window{Period: leaderboard.PeriodDaily, Start: w.Start, End: w.End, Anchor: "2026-05-06"}

	require.NoError(t, cache.SetTop(ctx, w, board(w, 3), 0))
	require.NoError(t, cache.SetTop(ctx, daily, board(daily, 1), 0))
	require.NoError(t, mr.Set("unrelated", "keep"))

	require.NoError(t, cache.InvalidateAll(ctx))

	for _, win := range []leaderboard.Window{w, daily} {
		_, ok, err := cache.GetTop(ctx, win, 10)
		require.NoError(t, err)
		assert.False(t, ok, win.Period)
	}
	assert.True(t, mr.Exists("unrelated"))
}

func TestLeaderboardCache_InvalidateAdvancesGeneration(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestCache(t)

	gen, err := cache.Generation(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), gen)

	require.NoError(t, cache.InvalidateAll(ctx))
	require.NoError(t, cache.InvalidateAll(ctx))

	gen, err = cache.Generation(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), gen)
	assert.True(t, mr.Exists(keyGeneration), "pattern delete must keep the counter")
}

func TestLeaderboardCache_SetTopAfterInvalidationIsRejected(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache(t)
	w := weekly()

	// A rebuild reads the generation, then points are awarded and the API
	// invalidates before the rebuild gets to write.
	gen, err := cache.Generation(ctx)
	require.NoError(t, err)
	require.NoError(t, cache.InvalidateAll(ctx))

	err = cache.SetTop(ctx, w, board(w, 3), gen)
	assert.ErrorIs(t, err, shared.ErrStaleBoard)

	_, ok, err := cache.GetTop(ctx, w, 10)
	require.NoError(t, err)
	assert.False(t, ok, "stale board must not be stored")

	fresh, err := cache.Generation(ctx)
	require.NoError(t, err)
	require.NoError(t, cache.SetTop(ctx, w, board(w, 3), fresh))

	got, ok, err := cache.GetTop(ctx, w, 10)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, got, 3)
}

func TestCache_Ping(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewCacheFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer c.Close()

	require.NoError(t, c.Ping(context.Background()))
}
