package gamestate

import (
	"time"

	"github.com/microlearn/gamification-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CALCULATOR
// ══════════════════════════════════════════════════════════════════════════════

// Calculator applies the XP and streak rules for the two triggers the engine
// knows: a first lesson completion and a daily check-in.
type Calculator struct {
	lessonXP int
}

// NewCalculator returns a calculator awarding lessonXP per completion.
// Non-positive values fall back to DefaultLessonXP.
func NewCalculator(lessonXP int) *Calculator {
	if lessonXP <= 0 {
		lessonXP = DefaultLessonXP
	}
	return &Calculator{lessonXP: lessonXP}
}

// LessonXP returns the per-completion award.
func (c *Calculator) LessonXP() int {
	return c.lessonXP
}

// Outcome is what one trigger did to a game state.
type Outcome struct {
	// Award is nil when no XP changed.
	Award  *XPAward
	Streak StreakOutcome
}

// Changed reports whether the state needs to be persisted.
func (o Outcome) Changed() bool {
	return o.Award != nil || (o.Streak.Change != StreakUnchanged && o.Streak.Change != StreakIgnored)
}

// OnLessonCompleted awards the lesson XP and counts day as activity. Callers
// invoke it only on the first-completion edge of a progress record.
func (c *Calculator) OnLessonCompleted(gs *GameState, day, now time.Time) Outcome {
	award := gs.AwardXP(c.lessonXP, now)
	return Outcome{
		Award:  &award,
		Streak: gs.RecordActivity(day, now),
	}
}

// OnCheckin counts day as activity without touching XP.
func (c *Calculator) OnCheckin(gs *GameState, day, now time.Time) Outcome {
	return Outcome{Streak: gs.RecordActivity(day, now)}
}

// Events converts an outcome into the domain events to publish after commit.
func (o Outcome) Events(gs *GameState, source string, at time.Time) []shared.Event {
	var events []shared.Event

	if o.Award != nil && o.Award.Amount != 0 {
		events = append(events, shared.NewXPGainedEvent(gs.UserID, o.Award.Amount, o.Award.NewXP, source, at))
		if o.Award.LeveledUp() {
			events = append(events, shared.NewLevelUpEvent(gs.UserID, o.Award.OldLevel, o.Award.NewLevel, at))
		}
	}

	switch o.Streak.Change {
	case StreakStarted, StreakExtended:
		events = append(events, shared.NewStreakUpdatedEvent(gs.UserID, gs.Streak.Current, gs.Streak.Longest, at))
	case StreakReset:
		if o.Streak.Previous > 0 {
			events = append(events, shared.NewStreakBrokenEvent(gs.UserID, o.Streak.Previous, o.Streak.DaysSinceLast-1, at))
		}
		events = append(events, shared.NewStreakUpdatedEvent(gs.UserID, gs.Streak.Current, gs.Streak.Longest, at))
	}

	return events
}
