// Package query contains read operations following CQRS pattern.
// Queries never modify engine state; they read the ranking index and the
// progress store and may refresh the leaderboard snapshot cache.
package query

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/microlearn/gamification-engine/internal/domain/leaderboard"
	"github.com/microlearn/gamification-engine/internal/domain/shared"
	"github.com/microlearn/gamification-engine/internal/infrastructure/metrics"
	"github.com/microlearn/gamification-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD QUERY SERVICE
// Global board, topic board, a user's rank and a user's rank with neighbors.
// Listings come from the snapshot cache or are aggregated from the ranking
// index; display names are hydrated in one batched directory call.
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardConfig tunes listing sizes and hydration.
type LeaderboardConfig struct {
	// WindowBound is the size of the materialized listing neighbors are
	// taken from. Users ranked below it get no neighbors.
	WindowBound int

	DefaultLimit  int
	MaxLimit      int
	DefaultRadius int

	// SnapshotTTL is how long a materialized listing is served from cache.
	SnapshotTTL time.Duration

	// DirectoryTimeout bounds a single hydration call.
	DirectoryTimeout time.Duration

	// PlaceholderName replaces names the directory could not provide.
	PlaceholderName string
}

// DefaultLeaderboardConfig returns default configuration.
func DefaultLeaderboardConfig() LeaderboardConfig {
	return LeaderboardConfig{
		WindowBound:      100,
		DefaultLimit:     50,
		MaxLimit:         100,
		DefaultRadius:    5,
		SnapshotTTL:      30 * time.Second,
		DirectoryTimeout: 2 * time.Second,
		PlaceholderName:  "Anonymous Learner",
	}
}

func (c LeaderboardConfig) withDefaults() LeaderboardConfig {
	d := DefaultLeaderboardConfig()
	if c.WindowBound <= 0 {
		c.WindowBound = d.WindowBound
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = d.MaxLimit
	}
	if c.MaxLimit > c.WindowBound {
		c.MaxLimit = c.WindowBound
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = d.DefaultLimit
	}
	if c.DefaultLimit > c.MaxLimit {
		c.DefaultLimit = c.MaxLimit
	}
	if c.DefaultRadius <= 0 {
		c.DefaultRadius = d.DefaultRadius
	}
	if c.SnapshotTTL <= 0 {
		c.SnapshotTTL = d.SnapshotTTL
	}
	if c.DirectoryTimeout <= 0 {
		c.DirectoryTimeout = d.DirectoryTimeout
	}
	if c.PlaceholderName == "" {
		c.PlaceholderName = d.PlaceholderName
	}
	return c
}

// LeaderboardQueryService is the public read API over the ranking index.
type LeaderboardQueryService struct {
	index     leaderboard.RankingIndex
	snapshots leaderboard.SnapshotCache
	directory leaderboard.UserDirectory
	config    LeaderboardConfig
	log       *logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	group singleflight.Group
}

// LeaderboardOption configures the service.
type LeaderboardOption func(*LeaderboardQueryService)

// WithSnapshotCache serves listings from cache. Without it every query
// aggregates.
func WithSnapshotCache(c leaderboard.SnapshotCache) LeaderboardOption {
	return func(s *LeaderboardQueryService) { s.snapshots = c }
}

// WithUserDirectory enables name hydration. Without it every row carries the
// placeholder name.
func WithUserDirectory(d leaderboard.UserDirectory) LeaderboardOption {
	return func(s *LeaderboardQueryService) { s.directory = d }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) LeaderboardOption {
	return func(s *LeaderboardQueryService) { s.log = l }
}

// WithMetrics records query latencies and cache outcomes.
func WithMetrics(m *metrics.Metrics) LeaderboardOption {
	return func(s *LeaderboardQueryService) { s.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) LeaderboardOption {
	return func(s *LeaderboardQueryService) { s.now = now }
}

// NewLeaderboardQueryService creates the service.
func NewLeaderboardQueryService(index leaderboard.RankingIndex, config LeaderboardConfig, opts ...LeaderboardOption) *LeaderboardQueryService {
	s := &LeaderboardQueryService{
		index:  index,
		config: config.withDefaults(),
		log:    logger.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the effective configuration.
func (s *LeaderboardQueryService) Config() LeaderboardConfig {
	return s.config
}

// ──────────────────────────────────────────────────────────────────────────────
// Listing
// ──────────────────────────────────────────────────────────────────────────────

// listing returns the bounded, ranked head of a board. Concurrent misses for
// the same board share one aggregation.
func (s *LeaderboardQueryService) listing(ctx context.Context, board leaderboard.Board) (*leaderboard.Snapshot, error) {
	if s.snapshots != nil {
		snap, err := s.snapshots.GetSnapshot(ctx, board)
		switch {
		case err != nil:
			s.metrics.SnapshotLookup("error")
			s.log.Warn("snapshot cache read failed", logger.String("board", board.String()), logger.Err(err))
		case snap != nil:
			s.metrics.SnapshotLookup("hit")
			return snap, nil
		default:
			s.metrics.SnapshotLookup("miss")
		}
	}

	// The shared aggregation must not die with the first caller's context;
	// every caller still stops waiting when its own context ends.
	ch := s.group.DoChan(board.String(), func() (interface{}, error) {
		return s.materialize(context.WithoutCancel(ctx), board)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*leaderboard.Snapshot), nil
	}
}

// Refresh rebuilds a board's snapshot unconditionally and stores it.
func (s *LeaderboardQueryService) Refresh(ctx context.Context, board leaderboard.Board) (*leaderboard.Snapshot, error) {
	if err := board.Validate(); err != nil {
		return nil, err
	}
	return s.materialize(ctx, board)
}

func (s *LeaderboardQueryService) materialize(ctx context.Context, board leaderboard.Board) (*leaderboard.Snapshot, error) {
	standings, err := s.index.Top(ctx, board, s.config.WindowBound)
	if err != nil {
		return nil, err
	}
	population, err := s.index.Count(ctx, board)
	if err != nil {
		return nil, err
	}

	snap := leaderboard.NewSnapshot(leaderboard.NewRanking(board, standings), population, s.now())
	if s.snapshots != nil {
		if err := s.snapshots.PutSnapshot(ctx, snap, s.config.SnapshotTTL); err != nil {
			s.log.Warn("snapshot cache write failed", logger.String("board", board.String()), logger.Err(err))
		}
	}
	return snap, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Hydration
// ──────────────────────────────────────────────────────────────────────────────

// hydrate attaches display data with one directory call. A failing or slow
// directory degrades names to the placeholder; it never fails the query.
func (s *LeaderboardQueryService) hydrate(ctx context.Context, standings []leaderboard.Standing) []leaderboard.Entry {
	if len(standings) == 0 {
		return []leaderboard.Entry{}
	}
	var profiles map[string]leaderboard.Profile
	if s.directory != nil {
		lookupCtx, cancel := context.WithTimeout(ctx, s.config.DirectoryTimeout)
		defer cancel()

		var err error
		profiles, err = s.directory.LookupProfiles(lookupCtx, leaderboard.UserIDs(standings))
		if err != nil {
			s.metrics.DirectoryFallback()
			s.log.Warn("user directory unavailable, using placeholder names",
				logger.Int("users", len(standings)),
				logger.Err(err),
			)
			profiles = nil
		}
	}
	return leaderboard.Hydrate(standings, profiles, s.config.PlaceholderName)
}

// resolveLimit applies the default for zero and caps at MaxLimit.
func (s *LeaderboardQueryService) resolveLimit(limit int) (int, error) {
	switch {
	case limit < 0:
		return 0, shared.ErrInvalidLimit
	case limit == 0:
		return s.config.DefaultLimit, nil
	case limit > s.config.MaxLimit:
		return s.config.MaxLimit, nil
	default:
		return limit, nil
	}
}
