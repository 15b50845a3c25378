// Package catalog serves the achievement catalog to the grant evaluator and
// the progress queries through an explicit TTL cache.
package catalog

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alem-hub/achievement-engine/internal/domain/achievement"
	"github.com/alem-hub/achievement-engine/internal/domain/shared"
)

// allScope is the cache key of ListAll. Course IDs never start with '*'.
const allScope = "*all"

// DefaultLoadTimeout bounds a shared store read.
const DefaultLoadTimeout = 10 * time.Second

type entry struct {
	items     []achievement.Achievement
	expiresAt time.Time
}

// Service wraps a CatalogRepository with a per-scope TTL cache. Concurrent
// misses for the same scope share one store read.
type Service struct {
	repo        achievement.CatalogRepository
	ttl         time.Duration
	loadTimeout time.Duration
	now         func() time.Time
	logger      *slog.Logger

	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group
}

var _ achievement.CatalogRepository = (*Service)(nil)

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLoadTimeout bounds each store read. The read is detached from the
// caller that started it, so this is its only deadline.
func WithLoadTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.loadTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a catalog service. A non-positive ttl disables caching.
func NewService(repo achievement.CatalogRepository, ttl time.Duration, opts ...Option) *Service {
	s := &Service{
		repo:        repo,
		ttl:         ttl,
		loadTimeout: DefaultLoadTimeout,
		now:         time.Now,
		logger:      slog.Default(),
		entries:     make(map[string]entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListApplicable returns global achievements plus those scoped to courseID.
// A store failure is returned as shared.ErrCatalogUnavailable; it is never
// reported as an empty catalog.
func (s *Service) ListApplicable(ctx context.Context, courseID string) ([]achievement.Achievement, error) {
	return s.load(ctx, courseID, func(ctx context.Context) ([]achievement.Achievement, error) {
		return s.repo.ListApplicable(ctx, courseID)
	})
}

// ListAll returns the whole catalog.
func (s *Service) ListAll(ctx context.Context) ([]achievement.Achievement, error) {
	return s.load(ctx, allScope, s.repo.ListAll)
}

// Invalidate drops every cached scope. Call it after the catalog changes.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.entries = make(map[string]entry)
	s.mu.Unlock()
}

func (s *Service) load(
	ctx context.Context,
	scope string,
	fetch func(context.Context) ([]achievement.Achievement, error),
) ([]achievement.Achievement, error) {
	if items, ok := s.cached(scope); ok {
		return items, nil
	}

	// The shared read outlives any single caller: one caller cancelling must
	// not fail the others waiting on the same scope.
	ch := s.group.DoChan(scope, func() (interface{}, error) {
		if items, ok := s.cached(scope); ok {
			return items, nil
		}
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.loadTimeout)
		defer cancel()

		items, err := fetch(loadCtx)
		if err != nil {
			return nil, err
		}
		if s.ttl > 0 {
			s.mu.Lock()
			s.entries[scope] = entry{items: items, expiresAt: s.now().Add(s.ttl)}
			s.mu.Unlock()
		}
		return items, nil
	})

	select {
	case <-ctx.Done():
		return nil, shared.ErrCatalogUnavailable.Wrap(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			s.logger.Error("catalog load failed", "scope", scope, "error", res.Err)
			return nil, shared.ErrCatalogUnavailable.Wrap(res.Err)
		}
		return slices.Clone(res.Val.([]achievement.Achievement)), nil
	}
}

func (s *Service) cached(scope string) ([]achievement.Achievement, bool) {
	if s.ttl <= 0 {
		return nil, false
	}
	s.mu.RLock()
	e, ok := s.entries[scope]
	s.mu.RUnlock()
	if !ok || !s.now().Before(e.expiresAt) {
		return nil, false
	}
	return slices.Clone(e.items), true
}
