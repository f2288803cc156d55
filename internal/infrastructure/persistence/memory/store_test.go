package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microlearn/gamification-engine/internal/domain/gamestate"
	"github.com/microlearn/gamification-engine/internal/domain/leaderboard"
	"github.com/microlearn/gamification-engine/internal/domain/ledger"
	"github.com/microlearn/gamification-engine/internal/domain/progress"
	"github.com/microlearn/gamification-engine/internal/domain/shared"
	"github.com/microlearn/gamification-engine/internal/domain/uow"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func seedState(t *testing.T, s *Store, userID string, xp int, completed map[string]string) {
	t.Helper()
	s.AddUser(userID)
	err := s.Do(context.Background(), userID, func(ctx context.Context, repos uow.Repositories) error {
		gs := gamestate.New(userID, t0)
		gs.XP = shared.XP(xp)
		for lessonID, topic := range completed {
			done := t0
			if err := repos.Progress.Save(ctx, &progress.Record{
				UserID: userID, LessonID: lessonID, Topic: topic,
				Status: progress.StatusCompleted, ProgressPercent: 100,
				MasteryPercent: 80, CompletedAt: &done, LastAccessedAt: t0,
			}); err != nil {
				return err
			}
		}
		return repos.GameState.Save(ctx, gs)
	})
	require.NoError(t, err)
}

func TestStore_UnitOfWorkRollsBack(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Do(ctx, "u1", func(ctx context.Context, repos uow.Repositories) error {
		require.NoError(t, repos.GameState.Save(ctx, gamestate.New("u1", t0)))
		require.NoError(t, repos.Ledger.Append(ctx, ledger.LearningEvent{ID: "e1", UserID: "u1"}))

		// own writes are visible inside the unit of work
		_, err := repos.GameState.Get(ctx, "u1")
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetGameState(ctx, "u1")
	assert.ErrorIs(t, err, shared.ErrGameStateNotFound)
	events, err := s.ListByUser(ctx, "u1", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestStore_LedgerRejectsDuplicates(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	appendEvent := func(id string) error {
		return s.Do(ctx, "u1", func(ctx context.Context, repos uow.Repositories) error {
			return repos.Ledger.Append(ctx, ledger.LearningEvent{ID: id, UserID: "u1", Timestamp: t0})
		})
	}

	require.NoError(t, appendEvent("e1"))
	err := appendEvent("e1")
	assert.True(t, shared.IsAlreadyProcessed(err))
	require.NoError(t, appendEvent("e2"))

	events, err := s.ListByUser(ctx, "u1", t0)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestRankingIndex_GlobalScenario(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seedState(t, s, "A", 300, nil)
	seedState(t, s, "B", 300, nil)
	seedState(t, s, "C", 150, nil)

	idx := s.Ranking()
	top, err := idx.Top(ctx, leaderboard.Global(), 3)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, []string{"A", "B", "C"}, leaderboard.UserIDs(top))
	assert.Equal(t, 1, top[0].Rank)
	assert.Equal(t, 1, top[1].Rank)
	assert.Equal(t, 3, top[2].Rank)

	c, err := idx.Standing(ctx, leaderboard.Global(), "C")
	require.NoError(t, err)
	assert.Equal(t, 3, c.Rank)

	n, err := idx.Count(ctx, leaderboard.Global())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = idx.Standing(ctx, leaderboard.Global(), "nobody")
	assert.True(t, shared.IsNotFound(err))
}

func TestRankingIndex_ExcludesInactiveUsers(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seedState(t, s, "A", 500, nil)
	seedState(t, s, "B", 100, nil)
	s.SetUserActive("A", false)

	b, err := s.Ranking().Standing(ctx, leaderboard.Global(), "B")
	require.NoError(t, err)
	assert.Equal(t, 1, b.Rank)

	_, err = s.Ranking().Standing(ctx, leaderboard.Global(), "A")
	assert.True(t, shared.IsNotFound(err))
}

func TestRankingIndex_TopicBoard(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seedState(t, s, "u1", 0, map[string]string{"l1": "algebra", "l2": "algebra", "l3": "geometry"})
	seedState(t, s, "u2", 900, map[string]string{"l1": "algebra"})
	seedState(t, s, "u3", 50, map[string]string{"l3": "geometry"})

	board := leaderboard.ForTopic("Algebra")
	top, err := s.Ranking().Top(ctx, board, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, leaderboard.UserIDs(top))
	assert.Equal(t, 2, top[0].LessonsCompleted)
	assert.Equal(t, 80.0, top[0].AvgMastery)

	n, err := s.Ranking().Count(ctx, board)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// a user with nothing in the topic still has a rank behind everyone who does
	u3, err := s.Ranking().Standing(ctx, board, "u3")
	require.NoError(t, err)
	assert.Equal(t, 0, u3.LessonsCompleted)
	assert.Equal(t, 3, u3.Rank)

	global, err := s.Ranking().Standing(ctx, leaderboard.Global(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, global.LessonsCompleted)
}

func TestProgressReader_ListAndSummarize(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	s.AddUser("u1")
	for i, id := range []string{"l1", "l2", "l3"} {
		at := t0.Add(time.Duration(i) * time.Hour)
		err := s.Do(ctx, "u1", func(ctx context.Context, repos uow.Repositories) error {
			return repos.Progress.Save(ctx, &progress.Record{
				UserID: "u1", LessonID: id, Status: progress.StatusInProgress,
				ProgressPercent: 40, TimeSpentSeconds: 60, LastAccessedAt: at,
			})
		})
		require.NoError(t, err)
	}

	page, total, err := s.Progress().ListByUser(ctx, "u1", shared.NewPagination(1, 2))
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 2)
	assert.Equal(t, "l3", page[0].LessonID)

	page, _, err = s.Progress().ListByUser(ctx, "u1", shared.NewPagination(2, 2))
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "l1", page[0].LessonID)

	recent, err := s.Progress().ListAccessedSince(ctx, "u1", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	sum, err := s.Progress().Summarize(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, sum.LessonsStarted)
	assert.Equal(t, 180, sum.TimeSpentSeconds)
}

func TestSnapshotCache_Expires(t *testing.T) {
	c := NewSnapshotCache()
	now := t0
	c.nowFunc = func() time.Time { return now }
	ctx := context.Background()

	snap := leaderboard.NewSnapshot(leaderboard.NewRanking(leaderboard.Global(), nil), 0, now)
	require.NoError(t, c.PutSnapshot(ctx, snap, time.Minute))

	got, err := c.GetSnapshot(ctx, leaderboard.Global())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, snap.ID, got.ID)

	now = now.Add(2 * time.Minute)
	got, err = c.GetSnapshot(ctx, leaderboard.Global())
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, c.PutSnapshot(ctx, snap, time.Minute))
	require.NoError(t, c.Invalidate(ctx, leaderboard.Global()))
	got, _ = c.GetSnapshot(ctx, leaderboard.Global())
	assert.Nil(t, got)
}
