package leaderboard

import (
	"context"
	"time"
)

// Repository aggregates the ledger into leaderboard rows.
type Repository interface {
	// Aggregate sums ledger entries inside the window per user and returns at
	// most limit rows in ranking order. limit <= 0 returns every user.
	Aggregate(ctx context.Context, w Window, limit int) ([]Row, error)

	// ReplaceMaterialized atomically replaces the stored board for the
	// window's (period, anchor) with entries.
	ReplaceMaterialized(ctx context.Context, w Window, entries []Entry, generatedAt time.Time) error

	// FreshMaterialized returns the stored board for the window's (period,
	// anchor). It returns nil when no board is stored or when a ledger entry
	// was written at or after the board's generation time.
	FreshMaterialized(ctx context.Context, w Window) ([]Entry, error)
}

// Cache stores ranked boards keyed by (period, anchor).
type Cache interface {
	// GetTop returns the cached board or ok=false on a miss.
	// Boards are cached up to MaxLimit rows, so any limit is served from one key.
	GetTop(ctx context.Context, w Window, limit int) (entries []Entry, ok bool, err error)

	// Generation returns the invalidation counter. Read it before reading the
	// data a board is built from.
	Generation(ctx context.Context) (int64, error)

	// SetTop stores a complete ranked board built from data read under gen.
	// It returns shared.ErrStaleBoard and stores nothing when InvalidateAll
	// has run since.
	SetTop(ctx context.Context, w Window, entries []Entry, gen int64) error

	// InvalidateAll advances the generation and drops every cached board.
	InvalidateAll(ctx context.Context) error
}
