package leaderboard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microlearn/gamification-engine/internal/domain/shared"
)

func TestNewBoard(t *testing.T) {
	b, err := NewBoard("", "")
	require.NoError(t, err)
	assert.Equal(t, Global(), b)

	b, err = NewBoard("topic", "  Algebra ")
	require.NoError(t, err)
	assert.Equal(t, Board{Scope: ScopeTopic, Topic: "algebra"}, b)
	assert.Equal(t, "topic:algebra", b.String())

	_, err = NewBoard("topic", "   ")
	assert.ErrorIs(t, err, shared.ErrTopicMissing)
	assert.True(t, shared.IsValidation(err))

	_, err = NewBoard("weekly", "")
	assert.ErrorIs(t, err, shared.ErrInvalidScope)

	assert.Error(t, Board{Scope: "bogus"}.Validate())
	assert.NoError(t, ForTopic("x").Validate())
}

func TestBoard_Score(t *testing.T) {
	st := Standing{UserID: "u1", XP: 250, LessonsCompleted: 4, AvgMastery: 80}

	assert.Equal(t, 250, Global().Score(st))
	assert.Equal(t, 4, ForTopic("algebra").Score(st))
}

func TestRanking_TiesShareRankAndSkip(t *testing.T) {
	r := NewRanking(Global(), []Standing{
		{UserID: "C", XP: 150},
		{UserID: "B", XP: 300},
		{UserID: "A", XP: 300},
	})

	top := r.Top(2)
	require.Len(t, top, 2)
	assert.Equal(t, "A", top[0].UserID)
	assert.Equal(t, "B", top[1].UserID)
	assert.Equal(t, 1, top[0].Rank)
	assert.Equal(t, 1, top[1].Rank)

	c, ok := r.Get("C")
	require.True(t, ok)
	assert.Equal(t, 3, c.Rank)
}

func TestRanking_RankEqualsStrictlyAheadPlusOne(t *testing.T) {
	in := []Standing{
		{UserID: "u1", XP: 500}, {UserID: "u2", XP: 120}, {UserID: "u3", XP: 500},
		{UserID: "u4", XP: 0}, {UserID: "u5", XP: 120}, {UserID: "u6", XP: 90},
	}
	r := NewRanking(Global(), in)

	for _, s := range r.All() {
		ahead := 0
		for _, o := range in {
			if o.XP > s.XP {
				ahead++
			}
		}
		assert.Equal(t, RankFromAhead(ahead), s.Rank, s.UserID)
	}
	assert.Equal(t, 1, r.Top(1)[0].Rank)
}

func TestRanking_TopicOrdering(t *testing.T) {
	r := NewRanking(ForTopic("geometry"), []Standing{
		{UserID: "a", LessonsCompleted: 2, AvgMastery: 40},
		{UserID: "b", LessonsCompleted: 2, AvgMastery: 90},
		{UserID: "c", LessonsCompleted: 5, AvgMastery: 10},
		{UserID: "d", LessonsCompleted: 2, AvgMastery: 90},
	})

	ids := UserIDs(r.All())
	assert.Equal(t, []string{"c", "b", "d", "a"}, ids)

	ranks := []int{}
	for _, s := range r.All() {
		ranks = append(ranks, s.Rank)
	}
	// rank counts completions only; mastery orders but does not split ties
	assert.Equal(t, []int{1, 2, 2, 2}, ranks)
}

func TestRanking_Window(t *testing.T) {
	var standings []Standing
	for i := 0; i < 20; i++ {
		standings = append(standings, Standing{UserID: string(rune('a' + i)), XP: 1000 - i*10})
	}
	r := NewRanking(Global(), standings)

	rows, found := r.Window("j", 5)
	require.True(t, found)
	assert.Len(t, rows, 11)
	assert.Contains(t, UserIDs(rows), "j")
	assert.Equal(t, "e", rows[0].UserID)

	rows, found = r.Window("a", 5)
	require.True(t, found)
	assert.Len(t, rows, 6)
	assert.Equal(t, "a", rows[0].UserID)

	rows, found = r.Window("t", 3)
	require.True(t, found)
	assert.Len(t, rows, 4)

	rows, found = r.Window("zz", 5)
	assert.False(t, found)
	assert.Empty(t, rows)

	for _, radius := range []int{0, 1, 2, 7, 30} {
		rows, _ := r.Window("k", radius)
		assert.LessOrEqual(t, len(rows), 2*radius+1)
		assert.Contains(t, UserIDs(rows), "k")
	}
}

func TestRanking_SliceClamps(t *testing.T) {
	r := NewRanking(Global(), []Standing{{UserID: "a", XP: 1}})
	assert.Empty(t, r.Slice(3, 9))
	assert.Len(t, r.Slice(-4, 9), 1)
	assert.Nil(t, r.Top(0))
}

func TestSnapshot_RoundTripsRanking(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	r := NewRanking(ForTopic("algebra"), []Standing{
		{UserID: "x", LessonsCompleted: 1},
		{UserID: "y", LessonsCompleted: 3},
	})
	snap := NewSnapshot(r, 7, at)

	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, ForTopic("algebra"), snap.Board())
	assert.Equal(t, 7, snap.Population)
	assert.Equal(t, time.Minute, snap.Age(at.Add(time.Minute)))
	assert.Equal(t, []string{"y", "x"}, UserIDs(snap.Ranking().All()))
}

func TestHydrate(t *testing.T) {
	standings := []Standing{
		{UserID: "a", XP: 250, Streak: 4, LessonsCompleted: 5, Rank: 1},
		{UserID: "b", XP: 40, Rank: 2},
	}
	profiles := map[string]Profile{
		"a": {UserID: "a", DisplayName: "Ada", AvatarURL: "https://img/a.png"},
	}

	entries := Hydrate(standings, profiles, "Anonymous Learner")
	require.Len(t, entries, 2)
	assert.Equal(t, Entry{
		UserID: "a", Name: "Ada", ProfilePicture: "https://img/a.png",
		XP: 250, Level: 3, Streak: 4, LessonsCompleted: 5, Rank: 1,
	}, entries[0])
	assert.Equal(t, "Anonymous Learner", entries[1].Name)
	assert.Equal(t, 1, entries[1].Level)
}
