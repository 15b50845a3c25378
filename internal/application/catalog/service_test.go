package catalog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/achievement-engine/internal/domain/achievement"
	"github.com/alem-hub/achievement-engine/internal/domain/shared"
	"github.com/alem-hub/achievement-engine/pkg/logger"
)

type fakeRepo struct {
	calls atomic.Int32
	err   error
	delay time.Duration
	items []achievement.Achievement
}

func (r *fakeRepo) ListApplicable(_ context.Context, courseID string) ([]achievement.Achievement, error) {
	r.calls.Add(1)
	time.Sleep(r.delay)
	if r.err != nil {
		return nil, r.err
	}
	var out []achievement.Achievement
	for _, a := range r.items {
		if a.AppliesTo(courseID) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListAll(context.Context) ([]achievement.Achievement, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	return r.items, nil
}

func testItems() []achievement.Achievement {
	return []achievement.Achievement{
		{ID: "g1", Points: 10, RequirementType: achievement.RequirementLessonsCompleted, RequirementValue: 1},
		{ID: "c1", Points: 20, CourseID: "c1", RequirementType: achievement.RequirementLessonsCompleted, RequirementValue: 5},
	}
}

func TestService_CachesPerScopeUntilExpiry(t *testing.T) {
	repo := &fakeRepo{items: testItems()}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(repo, time.Minute, WithClock(func() time.Time { return now }), WithLogger(logger.Discard()))
	ctx := context.Background()

	global, err := svc.ListApplicable(ctx, "")
	require.NoError(t, err)
	assert.Len(t, global, 1)

	scoped, err := svc.ListApplicable(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, scoped, 2)

	_, err = svc.ListApplicable(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), repo.calls.Load())

	now = now.Add(time.Minute)
	_, err = svc.ListApplicable(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int32(3), repo.calls.Load())
}

func TestService_Invalidate(t *testing.T) {
	repo := &fakeRepo{items: testItems()}
	svc := NewService(repo, time.Hour, WithLogger(logger.Discard()))
	ctx := context.Background()

	_, err := svc.ListAll(ctx)
	require.NoError(t, err)
	svc.Invalidate()
	_, err = svc.ListAll(ctx)
	require.NoError(t, err)

	assert.Equal(t, int32(2), repo.calls.Load())
}

func TestService_StoreFailureIsCatalogUnavailable(t *testing.T) {
	repo := &fakeRepo{err: errors.New("connection refused")}
	svc := NewService(repo, time.Hour, WithLogger(logger.Discard()))

	items, err := svc.ListApplicable(context.Background(), "c1")
	require.Error(t, err)
	assert.Nil(t, items)
	assert.ErrorIs(t, err, shared.ErrCatalogUnavailable)
	assert.True(t, shared.IsRetryable(err))

	// Failures are not cached.
	repo.err = nil
	repo.items = testItems()
	items, err = svc.ListApplicable(context.Background(), "c1")
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestService_ConcurrentMissesShareOneRead(t *testing.T) {
	repo := &fakeRepo{items: testItems(), delay: 20 * time.Millisecond}
	svc := NewService(repo, time.Hour, WithLogger(logger.Discard()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ListApplicable(context.Background(), "c1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), repo.calls.Load())
}

func TestService_ZeroTTLDisablesCache(t *testing.T) {
	repo := &fakeRepo{items: testItems()}
	svc := NewService(repo, 0, WithLogger(logger.Discard()))

	for i := 0; i < 3; i++ {
		_, err := svc.ListApplicable(context.Background(), "")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), repo.calls.Load())
}

// gatedRepo blocks every read until release is closed and records whether the
// read's context was cancelled.
type gatedRepo struct {
	started  chan struct{}
	release  chan struct{}
	calls    atomic.Int32
	ctxErr   atomic.Value
	items    []achievement.Achievement
	signaled sync.Once
}

func (r *gatedRepo) ListApplicable(ctx context.Context, _ string) ([]achievement.Achievement, error) {
	r.calls.Add(1)
	r.signaled.Do(func() { close(r.started) })
	<-r.release
	if err := ctx.Err(); err != nil {
		r.ctxErr.Store(err)
		return nil, err
	}
	return r.items, nil
}

func (r *gatedRepo) ListAll(ctx context.Context) ([]achievement.Achievement, error) {
	return r.ListApplicable(ctx, "")
}

func TestService_CancelledCallerDoesNotFailSharedLoad(t *testing.T) {
	repo := &gatedRepo{
		started: make(chan struct{}),
		release: make(chan struct{}),
		items:   testItems(),
	}
	svc := NewService(repo, time.Minute, WithLogger(logger.Discard()))

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.ListApplicable(firstCtx, "c1")
		firstErr <- err
	}()
	<-repo.started

	type result struct {
		items []achievement.Achievement
		err   error
	}
	second := make(chan result, 1)
	go func() {
		items, err := svc.ListApplicable(context.Background(), "c1")
		second <- result{items, err}
	}()
	time.Sleep(20 * time.Millisecond)

	// The caller that started the load gives up; it returns at once.
	cancelFirst()
	err := <-firstErr
	assert.ErrorIs(t, err, shared.ErrCatalogUnavailable)
	assert.ErrorIs(t, err, context.Canceled)

	close(repo.release)
	res := <-second
	require.NoError(t, res.err)
	assert.Len(t, res.items, 2)
	assert.Nil(t, repo.ctxErr.Load(), "the shared read must not inherit the first caller's cancellation")
	assert.Equal(t, int32(1), repo.calls.Load())
}

func TestService_LoadTimeoutBoundsSharedRead(t *testing.T) {
	gated := &gatedRepo{started: make(chan struct{}), release: make(chan struct{}), items: testItems()}
	svc := NewService(gated, 0, WithLoadTimeout(10*time.Millisecond), WithLogger(logger.Discard()))
	go func() {
		<-gated.started
		time.Sleep(30 * time.Millisecond)
		close(gated.release)
	}()
	_, err := svc.ListApplicable(context.Background(), "c1")
	assert.ErrorIs(t, err, shared.ErrCatalogUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
