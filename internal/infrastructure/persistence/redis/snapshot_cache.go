package redis

import (
	"context"
	"errors"
	"time"

	"github.com/microlearn/gamification-engine/internal/domain/leaderboard"
)

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT CACHE
// Leaderboard listings shared by every engine instance. A write invalidates
// the boards it touched; the TTL bounds staleness when an invalidation is
// lost.
// ══════════════════════════════════════════════════════════════════════════════

// SnapshotCache implements leaderboard.SnapshotCache on Redis.
type SnapshotCache struct {
	cache *Cache
}

// NewSnapshotCache creates a snapshot cache.
func NewSnapshotCache(cache *Cache) *SnapshotCache {
	return &SnapshotCache{cache: cache}
}

func snapshotKey(b leaderboard.Board) string {
	return SnapshotKey(string(b.Scope), b.Topic)
}

// GetSnapshot returns the cached listing or (nil, nil).
func (c *SnapshotCache) GetSnapshot(ctx context.Context, board leaderboard.Board) (*leaderboard.Snapshot, error) {
	var snap leaderboard.Snapshot
	err := c.cache.Get(ctx, snapshotKey(board), &snap)
	switch {
	case errors.Is(err, ErrCacheMiss):
		return nil, nil
	case err != nil:
		return nil, err
	}
	return &snap, nil
}

// PutSnapshot stores the listing for ttl. A non-positive ttl uses
// TTLSnapshotCache so listings never live forever.
func (c *SnapshotCache) PutSnapshot(ctx context.Context, snapshot *leaderboard.Snapshot, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = TTLSnapshotCache
	}
	return c.cache.Set(ctx, snapshotKey(snapshot.Board()), snapshot, ttl)
}

// Invalidate drops the listings of boards.
func (c *SnapshotCache) Invalidate(ctx context.Context, boards ...leaderboard.Board) error {
	keys := make([]string, 0, len(boards))
	for _, b := range boards {
		keys = append(keys, snapshotKey(b))
	}
	return c.cache.Delete(ctx, keys...)
}
