package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/achievement-engine/internal/domain/leaderboard"
	"github.com/alem-hub/achievement-engine/internal/domain/shared"
)

const (
	// keyRanks is a sorted set of user IDs scored by rank.
	keyRanks = PrefixLeaderboard + "ranks:"

	// keyRows is a hash of user ID to JSON leaderboard.Entry.
	keyRows = PrefixLeaderboard + "rows:"

	// keyMeta marks a board as cached, including empty boards.
	keyMeta = PrefixLeaderboard + "meta:"
)

// boardMeta is stored under keyMeta.
type boardMeta struct {
	Count    int       `json:"count"`
	CachedAt time.Time `json:"cached_at"`
}

// LeaderboardCache implements leaderboard.Cache.
type LeaderboardCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewLeaderboardCache creates a LeaderboardCache whose boards expire after ttl.
func NewLeaderboardCache(cache *Cache, ttl time.Duration) *LeaderboardCache {
	return &LeaderboardCache{cache: cache, ttl: ttl}
}

func boardKey(w leaderboard.Window) string {
	return string(w.Period) + ":" + w.Anchor
}

// GetTop returns the first limit entries of the cached board.
func (l *LeaderboardCache) GetTop(ctx context.Context, w leaderboard.Window, limit int) ([]leaderboard.Entry, bool, error) {
	suffix := boardKey(w)
	client := l.cache.client

	var meta boardMeta
	found, err := readJSON(ctx, client, keyMeta+suffix, &meta)
	if err != nil || !found {
		return nil, false, err
	}
	if meta.Count == 0 {
		return []leaderboard.Entry{}, true, nil
	}

	stop := int64(limit - 1)
	if limit <= 0 {
		stop = -1
	}
	ids, err := client.ZRange(ctx, keyRanks+suffix, 0, stop).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read ranks: %w", err)
	}
	// Members expired between the meta read and now.
	if len(ids) == 0 {
		return nil, false, nil
	}

	raw, err := client.HMGet(ctx, keyRows+suffix, ids...).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read rows: %w", err)
	}

	entries := make([]leaderboard.Entry, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, false, nil
		}
		var e leaderboard.Entry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
		}
		entries = append(entries, e)
	}
	return entries, true, nil
}

// Generation returns the number of InvalidateAll calls seen by Redis.
func (l *LeaderboardCache) Generation(ctx context.Context) (int64, error) {
	return generation(ctx, l.cache.client)
}

// SetTop replaces the cached board in a single MULTI/EXEC. The generation key
// is watched, so an InvalidateAll that lands between the check and EXEC
// aborts the write.
func (l *LeaderboardCache) SetTop(ctx context.Context, w leaderboard.Window, entries []leaderboard.Entry, gen int64) error {
	suffix := boardKey(w)
	ranksKey, rowsKey, metaKey := keyRanks+suffix, keyRows+suffix, keyMeta+suffix

	meta, err := json.Marshal(boardMeta{Count: len(entries), CachedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}

	members := make([]redis.Z, 0, len(entries))
	rows := make(map[string]any, len(entries))
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
		}
		members = append(members, redis.Z{Score: float64(e.Rank), Member: e.UserID})
		rows[e.UserID] = data
	}

	err = l.cache.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := generation(ctx, tx)
		if err != nil {
			return err
		}
		if current != gen {
			return shared.ErrStaleBoard
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, ranksKey, rowsKey, metaKey)
			if len(members) > 0 {
				pipe.ZAdd(ctx, ranksKey, members...)
				pipe.HSet(ctx, rowsKey, rows)
				pipe.Expire(ctx, ranksKey, l.ttl)
				pipe.Expire(ctx, rowsKey, l.ttl)
			}
			pipe.Set(ctx, metaKey, meta, l.ttl)
			return nil
		})
		return err
	}, keyGeneration)

	if errors.Is(err, redis.TxFailedErr) {
		return shared.ErrStaleBoard
	}
	return err
}

// InvalidateAll advances the generation, then drops every cached board. A
// SetTop racing with it either fails its generation check or is deleted here.
func (l *LeaderboardCache) InvalidateAll(ctx context.Context) error {
	if err := l.cache.client.Incr(ctx, keyGeneration).Err(); err != nil {
		return fmt.Errorf("failed to advance board generation: %w", err)
	}
	return l.cache.deleteByPattern(ctx, PrefixLeaderboard+"*")
}
