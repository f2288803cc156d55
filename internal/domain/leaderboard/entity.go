// Package leaderboard holds the ordering and ranking rules for the global and
// topic boards. Ranks follow the "users strictly ahead" rule: equal scores
// share a rank and the next distinct score skips (1, 1, 3).
package leaderboard

import (
	"sort"

	"github.com/microlearn/gamification-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Scope selects a board.
type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeTopic  Scope = "topic"
)

// ParseScope validates a scope label. Empty means global.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case "", ScopeGlobal:
		return ScopeGlobal, nil
	case ScopeTopic:
		return ScopeTopic, nil
	default:
		return "", shared.ErrInvalidScope
	}
}

// Board identifies one leaderboard: the global board or one topic board.
type Board struct {
	Scope Scope
	Topic string
}

// Global is the global board.
func Global() Board {
	return Board{Scope: ScopeGlobal}
}

// ForTopic is the board of a topic. The topic is normalized.
func ForTopic(topic string) Board {
	return Board{Scope: ScopeTopic, Topic: shared.NormalizeTopic(topic)}
}

// NewBoard builds and validates a board from request fields.
func NewBoard(scope, topic string) (Board, error) {
	sc, err := ParseScope(scope)
	if err != nil {
		return Board{}, err
	}
	if sc == ScopeGlobal {
		return Global(), nil
	}
	b := ForTopic(topic)
	if b.Topic == "" {
		return Board{}, shared.ErrTopicMissing
	}
	return b, nil
}

// Validate checks the board is well formed.
func (b Board) Validate() error {
	switch b.Scope {
	case ScopeGlobal:
		return nil
	case ScopeTopic:
		if b.Topic == "" {
			return shared.ErrTopicMissing
		}
		return nil
	default:
		return shared.ErrInvalidScope
	}
}

// String renders the board as a cache-friendly key.
func (b Board) String() string {
	if b.Scope == ScopeTopic {
		return string(ScopeTopic) + ":" + b.Topic
	}
	return string(ScopeGlobal)
}

// ══════════════════════════════════════════════════════════════════════════════
// STANDING
// ══════════════════════════════════════════════════════════════════════════════

// Standing is one user's row on a board before display hydration.
type Standing struct {
	UserID string `json:"userId"`
	XP     int    `json:"xp"`
	Streak int    `json:"streak"`
	// LessonsCompleted counts all completed lessons on the global board and
	// completed lessons of the topic on a topic board.
	LessonsCompleted int `json:"lessonsCompleted"`
	// AvgMastery is the mean mastery over the counted lessons (topic boards).
	AvgMastery float64 `json:"avgMastery"`
	Rank       int     `json:"rank"`
}

// Level derives the level from XP.
func (s Standing) Level() int {
	return shared.XP(s.XP).Level()
}

// score is the value that decides rank on a board.
func score(scope Scope, s Standing) int {
	if scope == ScopeTopic {
		return s.LessonsCompleted
	}
	return s.XP
}

// Score is the value that decides rank on b: XP globally, completed lessons
// on a topic board.
func (b Board) Score(s Standing) int {
	return score(b.Scope, s)
}

// less orders standings for a listing. Global: XP desc, userId asc.
// Topic: completed desc, avg mastery desc, userId asc.
func less(scope Scope, a, b Standing) bool {
	if sa, sb := score(scope, a), score(scope, b); sa != sb {
		return sa > sb
	}
	if scope == ScopeTopic && a.AvgMastery != b.AvgMastery {
		return a.AvgMastery > b.AvgMastery
	}
	return a.UserID < b.UserID
}

// Sort orders standings in place for the scope.
func Sort(scope Scope, standings []Standing) {
	sort.SliceStable(standings, func(i, j int) bool {
		return less(scope, standings[i], standings[j])
	})
}

// AssignRanks sets Rank on an already sorted listing: one plus the number of
// rows with a strictly greater score. It is exact only for the head of a
// population, which is what every listing is.
func AssignRanks(scope Scope, standings []Standing) {
	for i := range standings {
		if i > 0 && score(scope, standings[i]) == score(scope, standings[i-1]) {
			standings[i].Rank = standings[i-1].Rank
			continue
		}
		standings[i].Rank = i + 1
	}
}

// RankFromAhead converts a strictly-ahead count to a rank.
func RankFromAhead(ahead int) int {
	return ahead + 1
}

// ══════════════════════════════════════════════════════════════════════════════
// RANKING (Ordered listing)
// ══════════════════════════════════════════════════════════════════════════════

// Ranking is a sorted, ranked listing of the head of a board.
type Ranking struct {
	board   Board
	entries []Standing
	index   map[string]int
}

// NewRanking sorts and ranks standings. The slice is copied.
func NewRanking(board Board, standings []Standing) *Ranking {
	entries := make([]Standing, len(standings))
	copy(entries, standings)
	Sort(board.Scope, entries)
	AssignRanks(board.Scope, entries)

	index := make(map[string]int, len(entries))
	for i, e := range entries {
		index[e.UserID] = i
	}
	return &Ranking{board: board, entries: entries, index: index}
}

// Board returns the board the ranking belongs to.
func (r *Ranking) Board() Board {
	return r.board
}

// Count returns the number of rows in the listing.
func (r *Ranking) Count() int {
	return len(r.entries)
}

// All returns a copy of every row.
func (r *Ranking) All() []Standing {
	return r.Slice(0, len(r.entries))
}

// Top returns the first n rows.
func (r *Ranking) Top(n int) []Standing {
	if n <= 0 {
		return nil
	}
	return r.Slice(0, n)
}

// Slice returns rows [from, to), clamped to bounds.
func (r *Ranking) Slice(from, to int) []Standing {
	if from < 0 {
		from = 0
	}
	if to > len(r.entries) {
		to = len(r.entries)
	}
	if from >= to {
		return []Standing{}
	}
	out := make([]Standing, to-from)
	copy(out, r.entries[from:to])
	return out
}

// Get returns the row for a user.
func (r *Ranking) Get(userID string) (Standing, bool) {
	i, ok := r.index[userID]
	if !ok {
		return Standing{}, false
	}
	return r.entries[i], true
}

// Window returns up to radius rows above and below the user plus the user's
// own row. found is false when the user is not inside this listing, in which
// case the slice is empty.
func (r *Ranking) Window(userID string, radius int) (rows []Standing, found bool) {
	i, ok := r.index[userID]
	if !ok {
		return []Standing{}, false
	}
	if radius < 0 {
		radius = 0
	}
	return r.Slice(i-radius, i+radius+1), true
}
