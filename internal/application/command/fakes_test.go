package command

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/alem-hub/achievement-engine/internal/domain/achievement"
	"github.com/alem-hub/achievement-engine/internal/domain/leaderboard"
	"github.com/alem-hub/achievement-engine/internal/domain/points"
	"github.com/alem-hub/achievement-engine/internal/domain/progress"
	"github.com/alem-hub/achievement-engine/internal/domain/shared"
)

type fakeStats struct {
	stats progress.UserStats
	err   error
}

func (f fakeStats) Compute(_ context.Context, userID string) (progress.UserStats, error) {
	s := f.stats
	s.UserID = userID
	return s, f.err
}

type fakeCatalog struct {
	items []achievement.Achievement
	err   error
}

func (f fakeCatalog) ListApplicable(_ context.Context, courseID string) ([]achievement.Achievement, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []achievement.Achievement
	for _, a := range f.items {
		if a.AppliesTo(courseID) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f fakeCatalog) ListAll(context.Context) ([]achievement.Achievement, error) {
	return f.items, f.err
}

// memStore mimics the unique-constrained grant table, the ledger and the
// snapshot table of a real store.
type memStore struct {
	mu        sync.Mutex
	grants    map[string]achievement.Grant // user|achievement
	ledger    []points.LedgerEntry
	snapshots map[string]points.Snapshot

	failGrant    map[string]error // achievement ID -> error
	failSnapshot error
	transient    int // fail this many GrantWithPoints calls first
}

var errTransient = errors.New("deadlock detected")

func newMemStore() *memStore {
	return &memStore{
		grants:    make(map[string]achievement.Grant),
		snapshots: make(map[string]points.Snapshot),
		failGrant: make(map[string]error),
	}
}

func (m *memStore) EarnedIDs(_ context.Context, userID string) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]struct{})
	for _, g := range m.grants {
		if g.UserID == userID {
			out[g.AchievementID] = struct{}{}
		}
	}
	return out, nil
}

func (m *memStore) GrantWithPoints(_ context.Context, g achievement.Grant, e points.LedgerEntry, d points.SnapshotDelta) (bool, points.CreditResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.transient > 0 {
		m.transient--
		return false, points.CreditResult{}, errTransient
	}
	if err := m.failGrant[g.AchievementID]; err != nil {
		return false, points.CreditResult{}, err
	}
	key := g.UserID + "|" + g.AchievementID
	if _, ok := m.grants[key]; ok {
		return false, points.CreditResult{}, nil
	}
	m.grants[key] = g
	return true, m.creditLocked(e, d), nil
}

func (m *memStore) ListEarned(_ context.Context, userID string) ([]achievement.EarnedAchievement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []achievement.EarnedAchievement
	for _, g := range m.grants {
		if g.UserID == userID {
			out = append(out, achievement.EarnedAchievement{Grant: g})
		}
	}
	return out, nil
}

func (m *memStore) Credit(_ context.Context, e points.LedgerEntry, d points.SnapshotDelta) (points.CreditResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creditLocked(e, d), nil
}

func (m *memStore) creditLocked(e points.LedgerEntry, d points.SnapshotDelta) points.CreditResult {
	m.ledger = append(m.ledger, e)
	if m.failSnapshot != nil {
		return points.CreditResult{SnapshotErr: m.failSnapshot}
	}

	snap, ok := m.snapshots[d.UserID]
	if !ok {
		snap = *points.EmptySnapshot(d.UserID)
	}
	old := snap.CurrentLevel
	snap.TotalPoints += d.Points
	snap.AchievementsEarned += d.AchievementsEarned
	if d.Observed {
		snap.CoursesCompleted = max(snap.CoursesCompleted, d.CoursesCompleted)
		snap.LessonsCompleted = max(snap.LessonsCompleted, d.LessonsCompleted)
		snap.CurrentStreak = d.CurrentStreak
	}
	snap.CurrentLevel = points.LevelFor(snap.TotalPoints)
	snap.UpdatedAt = d.At
	m.snapshots[d.UserID] = snap

	out := snap
	return points.CreditResult{Change: points.SnapshotChange{OldLevel: old, Snapshot: &out}}
}

func (m *memStore) SumByUser(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, e := range m.ledger {
		if e.UserID == userID {
			total += e.Points
		}
	}
	return total, nil
}

func (m *memStore) ListUsers(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{})
	for _, e := range m.ledger {
		seen[e.UserID] = struct{}{}
	}
	for id := range m.snapshots {
		seen[id] = struct{}{}
	}
	users := make([]string, 0, len(seen))
	for id := range seen {
		users = append(users, id)
	}
	sort.Strings(users)
	return users, nil
}

func (m *memStore) Get(_ context.Context, userID string) (*points.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snapshots[userID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &snap, nil
}

func (m *memStore) Reconcile(_ context.Context, userID string, at time.Time) (*points.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snapshots[userID]
	if !ok {
		snap = *points.EmptySnapshot(userID)
	}
	snap.TotalPoints = 0
	for _, e := range m.ledger {
		if e.UserID == userID {
			snap.TotalPoints += e.Points
		}
	}
	snap.AchievementsEarned = 0
	for _, g := range m.grants {
		if g.UserID == userID {
			snap.AchievementsEarned++
		}
	}
	snap.CurrentLevel = points.LevelFor(snap.TotalPoints)
	snap.UpdatedAt = at
	m.snapshots[userID] = snap
	return &snap, nil
}

func (m *memStore) ledgerFor(userID string) []points.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []points.LedgerEntry
	for _, e := range m.ledger {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []shared.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]shared.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType()
	}
	return out
}

// memBoard is a leaderboard.Repository over a fixed ledger.
type memBoard struct {
	ledger       []points.LedgerEntry
	materialized map[string][]leaderboard.Entry
	err          error

	// onAggregate runs before each aggregation.
	onAggregate func()
}

func (b *memBoard) Aggregate(_ context.Context, w leaderboard.Window, limit int) ([]leaderboard.Row, error) {
	if b.onAggregate != nil {
		b.onAggregate()
	}
	if b.err != nil {
		return nil, b.err
	}
	byUser := make(map[string]*leaderboard.Row)
	for _, e := range b.ledger {
		if !w.Contains(e.CreatedAt) {
			continue
		}
		r, ok := byUser[e.UserID]
		if !ok {
			r = &leaderboard.Row{UserID: e.UserID}
			byUser[e.UserID] = r
		}
		r.Points += e.Points
		if e.CreatedAt.After(r.LastAt) {
			r.LastAt = e.CreatedAt
		}
	}
	rows := make([]leaderboard.Row, 0, len(byUser))
	for _, r := range byUser {
		rows = append(rows, *r)
	}
	sort.Slice(rows, func(i, j int) bool { return leaderboard.Less(rows[i], rows[j]) })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (b *memBoard) ReplaceMaterialized(_ context.Context, w leaderboard.Window, entries []leaderboard.Entry, _ time.Time) error {
	if b.materialized == nil {
		b.materialized = make(map[string][]leaderboard.Entry)
	}
	b.materialized[string(w.Period)+":"+w.Anchor] = entries
	return nil
}

func (b *memBoard) FreshMaterialized(_ context.Context, w leaderboard.Window) ([]leaderboard.Entry, error) {
	return b.materialized[string(w.Period)+":"+w.Anchor], nil
}
