// Package gamestate holds a user's XP and streak and the rules that mutate
// them. Level is always derived from XP.
package gamestate

import (
	"context"
	"time"

	"github.com/microlearn/gamification-engine/internal/domain/shared"
	"github.com/microlearn/gamification-engine/pkg/timeutil"
)

// DefaultLessonXP is awarded once per distinct lesson completion.
const DefaultLessonXP = 50

// ══════════════════════════════════════════════════════════════════════════════
// STREAK
// ══════════════════════════════════════════════════════════════════════════════

// StreakChange describes what an activity did to the streak.
type StreakChange string

const (
	// StreakUnchanged means activity was already counted for that day.
	StreakUnchanged StreakChange = "unchanged"
	// StreakStarted means the first recorded activity.
	StreakStarted StreakChange = "started"
	// StreakExtended means activity on the day after the last one.
	StreakExtended StreakChange = "extended"
	// StreakReset means a gap of two or more days.
	StreakReset StreakChange = "reset"
	// StreakIgnored means the activity was dated before the last recorded day.
	StreakIgnored StreakChange = "ignored"
)

// Streak counts consecutive calendar days of activity.
type Streak struct {
	Current int `json:"current"`
	Longest int `json:"longest"`
	// LastActivityDate is a calendar date (midnight UTC of the canonical-zone
	// day), nil before any activity.
	LastActivityDate *time.Time `json:"lastActivityDate,omitempty"`
}

// StreakOutcome reports one streak evaluation.
type StreakOutcome struct {
	Change        StreakChange
	Previous      int
	DaysSinceLast int
}

// RecordActivity evaluates the streak state machine for activity on day.
// day must be a value produced by timeutil.Calendar.Date.
func (s *Streak) RecordActivity(day time.Time) StreakOutcome {
	out := StreakOutcome{Previous: s.Current}

	if s.LastActivityDate == nil {
		s.Current = 1
		s.Longest = max(s.Longest, 1)
		s.setLast(day)
		out.Change = StreakStarted
		return out
	}

	out.DaysSinceLast = timeutil.DateDiff(*s.LastActivityDate, day)

	switch {
	case out.DaysSinceLast < 0:
		// Late event for a day already behind us. Counting it would rewrite history.
		out.Change = StreakIgnored
		return out
	case out.DaysSinceLast == 0:
		out.Change = StreakUnchanged
	case out.DaysSinceLast == 1:
		s.Current++
		s.Longest = max(s.Longest, s.Current)
		out.Change = StreakExtended
	default:
		s.Current = 1
		s.Longest = max(s.Longest, 1)
		out.Change = StreakReset
	}

	s.setLast(day)
	return out
}

func (s *Streak) setLast(day time.Time) {
	d := day
	s.LastActivityDate = &d
}

// ══════════════════════════════════════════════════════════════════════════════
// GAME STATE
// ══════════════════════════════════════════════════════════════════════════════

// GameState is the per-user gamification aggregate.
type GameState struct {
	UserID    string    `json:"userId"`
	XP        shared.XP `json:"xp"`
	Streak    Streak    `json:"streak"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// New returns the lazily created initial state for a user.
func New(userID string, now time.Time) *GameState {
	return &GameState{UserID: userID, UpdatedAt: now}
}

// Level derives the level from XP.
func (g *GameState) Level() int {
	return g.XP.Level()
}

// Clone returns a deep copy.
func (g *GameState) Clone() *GameState {
	if g == nil {
		return nil
	}
	cp := *g
	if g.Streak.LastActivityDate != nil {
		d := *g.Streak.LastActivityDate
		cp.Streak.LastActivityDate = &d
	}
	return &cp
}

// XPAward reports one XP mutation.
type XPAward struct {
	Amount   int
	OldXP    int
	NewXP    int
	OldLevel int
	NewLevel int
}

// LeveledUp reports whether the award crossed a level boundary.
func (a XPAward) LeveledUp() bool {
	return a.NewLevel > a.OldLevel
}

// AwardXP adds amount and recomputes the level.
func (g *GameState) AwardXP(amount int, now time.Time) XPAward {
	a := XPAward{Amount: amount, OldXP: g.XP.Int(), OldLevel: g.Level()}
	g.XP = g.XP.Add(amount)
	g.UpdatedAt = now
	a.NewXP = g.XP.Int()
	a.NewLevel = g.Level()
	return a
}

// RecordActivity runs the streak state machine for an activity on day.
func (g *GameState) RecordActivity(day time.Time, now time.Time) StreakOutcome {
	out := g.Streak.RecordActivity(day)
	if out.Change != StreakUnchanged && out.Change != StreakIgnored {
		g.UpdatedAt = now
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// Repository persists game states.
type Repository interface {
	// Get returns the state or shared.ErrGameStateNotFound.
	Get(ctx context.Context, userID string) (*GameState, error)

	// Save inserts or replaces the state.
	Save(ctx context.Context, gs *GameState) error
}

// LoadOrNew returns the stored state or a fresh one when none exists.
func LoadOrNew(ctx context.Context, repo Repository, userID string, now time.Time) (*GameState, bool, error) {
	gs, err := repo.Get(ctx, userID)
	if err == nil {
		return gs, false, nil
	}
	if shared.IsNotFound(err) {
		return New(userID, now), true, nil
	}
	return nil, false, err
}
