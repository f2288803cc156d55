package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microlearn/gamification-engine/internal/application/query"
	"github.com/microlearn/gamification-engine/internal/domain/gamestate"
	"github.com/microlearn/gamification-engine/internal/domain/leaderboard"
	"github.com/microlearn/gamification-engine/internal/domain/shared"
	"github.com/microlearn/gamification-engine/internal/domain/uow"
	"github.com/microlearn/gamification-engine/internal/infrastructure/persistence/memory"
	"github.com/microlearn/gamification-engine/internal/infrastructure/persistence/redis"
)

type fakeRefresher struct {
	mu     sync.Mutex
	boards []string
	fail   map[string]error
}

func (f *fakeRefresher) Refresh(_ context.Context, board leaderboard.Board) (*leaderboard.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.boards = append(f.boards, board.String())
	if err := f.fail[board.String()]; err != nil {
		return nil, err
	}
	return leaderboard.NewSnapshot(leaderboard.NewRanking(board, nil), 0, time.Now()), nil
}

func newLocker(t *testing.T) *redis.Locker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redis.NewLocker(redis.NewCache(client))
}

func TestWarm_RefreshesGlobalThenTopics(t *testing.T) {
	r := &fakeRefresher{}
	job := NewWarmLeaderboardJob(r, nil, WarmLeaderboardConfig{Topics: []string{"Algebra", " algebra ", "", "Geometry"}}, nil)

	stats, err := job.Warm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, WarmStats{Boards: 3, Refreshed: 3}, stats)
	assert.Equal(t, []string{"global", "topic:algebra", "topic:geometry"}, r.boards)
}

func TestWarm_OneFailingBoardDoesNotStopTheRest(t *testing.T) {
	boom := errors.New("index down")
	r := &fakeRefresher{fail: map[string]error{"global": boom}}
	job := NewWarmLeaderboardJob(r, nil, WarmLeaderboardConfig{Topics: []string{"algebra"}}, nil)

	stats, err := job.Warm(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, stats.Refreshed)
	assert.Len(t, r.boards, 2)
}

func TestWarm_SkipsWhileAnotherWorkerHoldsTheLock(t *testing.T) {
	locker := newLocker(t)
	ctx := context.Background()

	release, ok, err := locker.TryLock(ctx, "warm_leaderboard", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	r := &fakeRefresher{}
	job := NewWarmLeaderboardJob(r, locker, WarmLeaderboardConfig{}, nil)

	stats, err := job.Warm(ctx)
	require.NoError(t, err)
	assert.True(t, stats.Skipped)
	assert.Empty(t, r.boards)

	require.NoError(t, release(ctx))
	stats, err = job.Warm(ctx)
	require.NoError(t, err)
	assert.False(t, stats.Skipped)
	assert.Equal(t, 1, stats.Refreshed)

	// the job releases its own lock
	_, ok, err = locker.TryLock(ctx, "warm_leaderboard", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWarm_FillsSnapshotCache(t *testing.T) {
	store := memory.NewStore()
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	for id, xp := range map[string]int{"a": 300, "b": 150} {
		store.AddUser(id)
		require.NoError(t, store.Do(context.Background(), id, func(ctx context.Context, repos uow.Repositories) error {
			gs := gamestate.New(id, now)
			gs.XP = shared.XP(xp)
			return repos.GameState.Save(ctx, gs)
		}))
	}

	cache := memory.NewSnapshotCache()
	svc := query.NewLeaderboardQueryService(store.Ranking(), query.LeaderboardConfig{}, query.WithSnapshotCache(cache))
	job := NewWarmLeaderboardJob(svc, nil, WarmLeaderboardConfig{}, nil)

	require.NoError(t, job.Run(context.Background()))

	snap, err := cache.GetSnapshot(context.Background(), leaderboard.Global())
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 2, snap.Population)
	assert.Equal(t, "a", snap.Standings[0].UserID)
}
