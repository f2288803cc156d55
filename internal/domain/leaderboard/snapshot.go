package leaderboard

import (
	"time"

	"github.com/google/uuid"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot is a materialized, ranked head of a board at a point in time.
// It backs the read path so concurrent queries do not re-aggregate.
type Snapshot struct {
	ID    string `json:"id"`
	Scope Scope  `json:"scope"`
	Topic string `json:"topic,omitempty"`

	// Standings are sorted and ranked, bounded by the listing size.
	Standings []Standing `json:"standings"`

	// Population is the board's full size when the snapshot was taken.
	Population int `json:"population"`

	TakenAt time.Time `json:"takenAt"`
}

// NewSnapshot captures a ranking.
func NewSnapshot(ranking *Ranking, population int, at time.Time) *Snapshot {
	b := ranking.Board()
	return &Snapshot{
		ID:         uuid.NewString(),
		Scope:      b.Scope,
		Topic:      b.Topic,
		Standings:  ranking.All(),
		Population: population,
		TakenAt:    at,
	}
}

// Board returns the board the snapshot belongs to.
func (s *Snapshot) Board() Board {
	return Board{Scope: s.Scope, Topic: s.Topic}
}

// Ranking rebuilds the ordered listing from the snapshot.
func (s *Snapshot) Ranking() *Ranking {
	return NewRanking(s.Board(), s.Standings)
}

// Age returns how old the snapshot is at now.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.TakenAt)
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTRY (public projection)
// ══════════════════════════════════════════════════════════════════════════════

// Entry is the serialized leaderboard row consumed by API callers. Field names
// are part of the public contract.
type Entry struct {
	UserID           string `json:"userId"`
	Name             string `json:"name"`
	ProfilePicture   string `json:"profilePicture,omitempty"`
	XP               int    `json:"xp"`
	Level            int    `json:"level"`
	Streak           int    `json:"streak"`
	LessonsCompleted int    `json:"lessonsCompleted"`
	Rank             int    `json:"rank"`
}

// Hydrate projects standings to entries using the profiles. Users missing
// from profiles get the placeholder name.
func Hydrate(standings []Standing, profiles map[string]Profile, placeholder string) []Entry {
	out := make([]Entry, 0, len(standings))
	for _, s := range standings {
		e := Entry{
			UserID:           s.UserID,
			Name:             placeholder,
			XP:               s.XP,
			Level:            s.Level(),
			Streak:           s.Streak,
			LessonsCompleted: s.LessonsCompleted,
			Rank:             s.Rank,
		}
		if p, ok := profiles[s.UserID]; ok {
			if p.DisplayName != "" {
				e.Name = p.DisplayName
			}
			e.ProfilePicture = p.AvatarURL
		}
		out = append(out, e)
	}
	return out
}

// UserIDs returns the ids of the standings in order.
func UserIDs(standings []Standing) []string {
	ids := make([]string, len(standings))
	for i, s := range standings {
		ids[i] = s.UserID
	}
	return ids
}
