package memory

import (
	"context"
	"sync"
	"time"

	"github.com/microlearn/gamification-engine/internal/domain/leaderboard"
)

// SnapshotCache is a process-local leaderboard.SnapshotCache with TTL.
type SnapshotCache struct {
	mu      sync.RWMutex
	items   map[string]cachedSnapshot
	nowFunc func() time.Time
}

type cachedSnapshot struct {
	snapshot  *leaderboard.Snapshot
	expiresAt time.Time
}

// NewSnapshotCache creates an empty cache.
func NewSnapshotCache() *SnapshotCache {
	return &SnapshotCache{
		items:   make(map[string]cachedSnapshot),
		nowFunc: time.Now,
	}
}

func (c *SnapshotCache) GetSnapshot(_ context.Context, board leaderboard.Board) (*leaderboard.Snapshot, error) {
	c.mu.RLock()
	item, ok := c.items[board.String()]
	c.mu.RUnlock()

	if !ok || !c.nowFunc().Before(item.expiresAt) {
		return nil, nil
	}
	cp := *item.snapshot
	cp.Standings = append([]leaderboard.Standing(nil), item.snapshot.Standings...)
	return &cp, nil
}

func (c *SnapshotCache) PutSnapshot(_ context.Context, snapshot *leaderboard.Snapshot, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[snapshot.Board().String()] = cachedSnapshot{
		snapshot:  snapshot,
		expiresAt: c.nowFunc().Add(ttl),
	}
	return nil
}

func (c *SnapshotCache) Invalidate(_ context.Context, boards ...leaderboard.Board) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range boards {
		delete(c.items, b.String())
	}
	return nil
}
