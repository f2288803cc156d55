package gamestate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microlearn/gamification-engine/internal/domain/shared"
)

func eventTypes(events []shared.Event) []shared.EventType {
	out := make([]shared.EventType, len(events))
	for i, e := range events {
		out[i] = e.EventType()
	}
	return out
}

func TestCalculator_DefaultsLessonXP(t *testing.T) {
	assert.Equal(t, DefaultLessonXP, NewCalculator(0).LessonXP())
	assert.Equal(t, 75, NewCalculator(75).LessonXP())
}

func TestCalculator_OnLessonCompleted(t *testing.T) {
	calc := NewCalculator(50)
	gs := New("u1", day(1))
	gs.XP = 80

	out := calc.OnLessonCompleted(gs, day(1), day(1))
	require.NotNil(t, out.Award)
	assert.Equal(t, 130, out.Award.NewXP)
	assert.True(t, out.Award.LeveledUp())
	assert.Equal(t, StreakStarted, out.Streak.Change)
	assert.True(t, out.Changed())

	assert.Equal(t, []shared.EventType{
		shared.EventXPGained, shared.EventLevelUp, shared.EventStreakUpdated,
	}, eventTypes(out.Events(gs, "lesson", day(1))))
}

func TestCalculator_OnCheckin(t *testing.T) {
	calc := NewCalculator(50)
	gs := New("u1", day(1))

	out := calc.OnCheckin(gs, day(1), day(1))
	assert.Nil(t, out.Award)
	assert.Equal(t, 0, gs.XP.Int())
	assert.Equal(t, 1, gs.Streak.Current)

	again := calc.OnCheckin(gs, day(1), day(1))
	assert.False(t, again.Changed())
	assert.Empty(t, again.Events(gs, "checkin", day(1)))

	calc.OnCheckin(gs, day(2), day(2))
	broken := calc.OnCheckin(gs, day(5), day(5))
	assert.Equal(t, StreakReset, broken.Streak.Change)
	assert.Equal(t, []shared.EventType{
		shared.EventStreakBroken, shared.EventStreakUpdated,
	}, eventTypes(broken.Events(gs, "checkin", day(5))))
	assert.Equal(t, 2, gs.Streak.Longest)
}
