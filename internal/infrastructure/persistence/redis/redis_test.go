package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microlearn/gamification-engine/internal/domain/leaderboard"
	"github.com/microlearn/gamification-engine/internal/infrastructure/persistence/memory"
)

func newCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client), mr
}

func TestCache_SetGetDelete(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()

	type payload struct {
		Name string `json:"name"`
	}
	require.NoError(t, c.Set(ctx, "k", payload{Name: "ada"}, time.Minute))

	var got payload
	require.NoError(t, c.Get(ctx, "k", &got))
	assert.Equal(t, "ada", got.Name)

	mr.FastForward(2 * time.Minute)
	assert.ErrorIs(t, c.Get(ctx, "k", &got), ErrCacheMiss)

	assert.ErrorIs(t, c.Set(ctx, "", got, 0), ErrCacheKeyEmpty)
	assert.ErrorIs(t, c.Set(ctx, "k", nil, 0), ErrCacheNilValue)
	assert.ErrorIs(t, c.Set(ctx, "k", got, -time.Second), ErrCacheInvalidTTL)

	require.NoError(t, c.Set(ctx, "x", 1, 0))
	require.NoError(t, c.Delete(ctx, "x"))
	assert.False(t, mr.Exists("x"))
}

func TestSnapshotCache_RoundTripAndInvalidate(t *testing.T) {
	c, mr := newCache(t)
	sc := NewSnapshotCache(c)
	ctx := context.Background()
	board := leaderboard.ForTopic("Algebra")

	miss, err := sc.GetSnapshot(ctx, board)
	require.NoError(t, err)
	assert.Nil(t, miss)

	taken := time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)
	ranking := leaderboard.NewRanking(board, []leaderboard.Standing{
		{UserID: "a", XP: 100, LessonsCompleted: 3, AvgMastery: 80},
		{UserID: "b", XP: 400, LessonsCompleted: 1},
	})
	snap := leaderboard.NewSnapshot(ranking, 7, taken)
	require.NoError(t, sc.PutSnapshot(ctx, snap, time.Minute))
	assert.True(t, mr.Exists("leaderboard:snapshot:topic:algebra"))

	got, err := sc.GetSnapshot(ctx, board)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, snap.ID, got.ID)
	assert.Equal(t, 7, got.Population)
	assert.True(t, taken.Equal(got.TakenAt))
	require.Len(t, got.Standings, 2)
	assert.Equal(t, "a", got.Standings[0].UserID)
	assert.Equal(t, 1, got.Standings[0].Rank)
	assert.Equal(t, 2, got.Standings[1].Rank)

	require.NoError(t, sc.Invalidate(ctx, leaderboard.Global(), board))
	got, err = sc.GetSnapshot(ctx, board)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSnapshotCache_DefaultTTL(t *testing.T) {
	c, mr := newCache(t)
	sc := NewSnapshotCache(c)
	ctx := context.Background()

	snap := leaderboard.NewSnapshot(leaderboard.NewRanking(leaderboard.Global(), nil), 0, time.Now())
	require.NoError(t, sc.PutSnapshot(ctx, snap, 0))
	assert.Equal(t, TTLSnapshotCache, mr.TTL("leaderboard:snapshot:global:"))
}

func TestProfileCache_ReadThrough(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()
	upstream := memory.NewDirectory(
		leaderboard.Profile{UserID: "u1", DisplayName: "Ada"},
		leaderboard.Profile{UserID: "u2", DisplayName: "Grace", AvatarURL: "https://cdn/g.png"},
	)
	pc := NewProfileCache(c, upstream, time.Minute, nil)

	first, err := pc.LookupProfiles(ctx, []string{"u1", "u2", "ghost"})
	require.NoError(t, err)
	assert.Len(t, first, 2)
	assert.Equal(t, 1, upstream.Calls())

	second, err := pc.LookupProfiles(ctx, []string{"u1", "u2"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/g.png", second["u2"].AvatarURL)
	assert.Equal(t, 1, upstream.Calls(), "cached profiles are not looked up again")

	// ghost is never cached, so it keeps going upstream
	_, err = pc.LookupProfiles(ctx, []string{"u1", "ghost"})
	require.NoError(t, err)
	assert.Equal(t, 2, upstream.Calls())
}

func TestProfileCache_UpstreamErrorIsReturned(t *testing.T) {
	c, _ := newCache(t)
	upstream := memory.NewDirectory()
	upstream.Err = errors.New("directory down")

	_, err := NewProfileCache(c, upstream, 0, nil).LookupProfiles(context.Background(), []string{"u1"})
	assert.EqualError(t, err, "directory down")
}

func TestLocker_ExclusiveUntilReleased(t *testing.T) {
	c, mr := newCache(t)
	l := NewLocker(c)
	ctx := context.Background()

	release, ok, err := l.TryLock(ctx, "warm", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, "warm", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists("lock:warm"))

	_, ok, err = l.TryLock(ctx, "warm", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocker_ReleaseKeepsForeignLock(t *testing.T) {
	c, mr := newCache(t)
	l := NewLocker(c)
	ctx := context.Background()

	release, ok, err := l.TryLock(ctx, "warm", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	_, ok, err = l.TryLock(ctx, "warm", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, release(ctx))
	assert.True(t, mr.Exists("lock:warm"))
}
