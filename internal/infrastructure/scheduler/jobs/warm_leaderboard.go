// Package jobs contains the engine's scheduled jobs.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/microlearn/gamification-engine/internal/domain/leaderboard"
	"github.com/microlearn/gamification-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// WARM LEADERBOARD JOB
// ══════════════════════════════════════════════════════════════════════════════

// SnapshotRefresher rebuilds and stores a board's snapshot.
type SnapshotRefresher interface {
	Refresh(ctx context.Context, board leaderboard.Board) (*leaderboard.Snapshot, error)
}

// Locker hands out a cluster-wide lock so only one worker warms at a time.
type Locker interface {
	TryLock(ctx context.Context, resource string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// WarmLeaderboardConfig configures the warm job.
type WarmLeaderboardConfig struct {
	// Topics are refreshed after the global board. They are normalized.
	Topics []string

	// Timeout bounds one run.
	Timeout time.Duration

	// LockTTL is how long the warm lock is held at most.
	LockTTL time.Duration
}

// DefaultWarmLeaderboardConfig returns sensible defaults.
func DefaultWarmLeaderboardConfig() WarmLeaderboardConfig {
	return WarmLeaderboardConfig{
		Timeout: 20 * time.Second,
		LockTTL: 30 * time.Second,
	}
}

// WarmStats reports one run.
type WarmStats struct {
	Boards    int
	Refreshed int
	Skipped   bool
}

// WarmLeaderboardJob keeps the global and hot-topic snapshots fresh so that
// leaderboard reads rarely aggregate on the request path.
type WarmLeaderboardJob struct {
	refresher SnapshotRefresher
	locker    Locker
	boards    []leaderboard.Board
	config    WarmLeaderboardConfig
	log       *logger.Logger
}

// NewWarmLeaderboardJob creates the job. locker may be nil when a single
// worker runs.
func NewWarmLeaderboardJob(refresher SnapshotRefresher, locker Locker, config WarmLeaderboardConfig, log *logger.Logger) *WarmLeaderboardJob {
	d := DefaultWarmLeaderboardConfig()
	if config.Timeout <= 0 {
		config.Timeout = d.Timeout
	}
	if config.LockTTL <= 0 {
		config.LockTTL = d.LockTTL
	}
	if log == nil {
		log = logger.Nop()
	}

	boards := []leaderboard.Board{leaderboard.Global()}
	seen := make(map[string]struct{})
	for _, t := range config.Topics {
		b := leaderboard.ForTopic(t)
		if b.Topic == "" {
			continue
		}
		if _, dup := seen[b.Topic]; dup {
			continue
		}
		seen[b.Topic] = struct{}{}
		boards = append(boards, b)
	}

	return &WarmLeaderboardJob{
		refresher: refresher,
		locker:    locker,
		boards:    boards,
		config:    config,
		log:       log.With(logger.Component("warm_leaderboard")),
	}
}

// Name implements scheduler.Job.
func (j *WarmLeaderboardJob) Name() string { return "warm_leaderboard" }

// Description implements scheduler.Job.
func (j *WarmLeaderboardJob) Description() string {
	return fmt.Sprintf("refreshes %d leaderboard snapshots", len(j.boards))
}

// Boards returns the boards the job refreshes.
func (j *WarmLeaderboardJob) Boards() []leaderboard.Board {
	return append([]leaderboard.Board(nil), j.boards...)
}

// Run implements scheduler.Job.
func (j *WarmLeaderboardJob) Run(ctx context.Context) error {
	_, err := j.Warm(ctx)
	return err
}

// Warm refreshes every board. One failing board does not stop the others;
// the failures are joined into the returned error.
func (j *WarmLeaderboardJob) Warm(ctx context.Context) (WarmStats, error) {
	stats := WarmStats{Boards: len(j.boards)}

	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	if j.locker != nil {
		release, ok, err := j.locker.TryLock(ctx, j.Name(), j.config.LockTTL)
		if err != nil {
			return stats, fmt.Errorf("acquire warm lock: %w", err)
		}
		if !ok {
			j.log.Debug("another worker is warming, skipping")
			stats.Skipped = true
			return stats, nil
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				j.log.Warn("release warm lock failed", logger.Err(err))
			}
		}()
	}

	var errs []error
	for _, board := range j.boards {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		snap, err := j.refresher.Refresh(ctx, board)
		if err != nil {
			j.log.Warn("snapshot refresh failed", logger.String("board", board.String()), logger.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", board, err))
			continue
		}
		stats.Refreshed++
		j.log.Debug("snapshot refreshed",
			logger.String("board", board.String()),
			logger.Int("population", snap.Population),
		)
	}
	return stats, errors.Join(errs...)
}
