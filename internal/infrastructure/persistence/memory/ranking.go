package memory

import (
	"context"

	"github.com/microlearn/gamification-engine/internal/domain/leaderboard"
	"github.com/microlearn/gamification-engine/internal/domain/shared"
)

// RankingIndex aggregates standings from the store on every call.
type RankingIndex struct{ s *Store }

// Ranking returns the store's ranking index.
func (s *Store) Ranking() RankingIndex {
	return RankingIndex{s: s}
}

// population builds the board's standings without ranks. Callers hold the
// read lock. Topic boards only include users with a completed lesson in the
// topic; the global board includes every active user with a game state.
func (s *Store) population(board leaderboard.Board) []leaderboard.Standing {
	out := make([]leaderboard.Standing, 0, len(s.states))
	for userID, gs := range s.states {
		if !s.users[userID] {
			continue
		}
		st, ok := s.standingOf(board, userID)
		if !ok {
			continue
		}
		st.XP = gs.XP.Int()
		st.Streak = gs.Streak.Current
		out = append(out, st)
	}
	return out
}

// standingOf computes the lesson counters of one user. ok is false when the
// user has nothing completed on a topic board.
func (s *Store) standingOf(board leaderboard.Board, userID string) (leaderboard.Standing, bool) {
	st := leaderboard.Standing{UserID: userID}
	masteryTotal := 0
	for _, rec := range s.progress[userID] {
		if !rec.IsCompleted() {
			continue
		}
		if board.Scope == leaderboard.ScopeTopic && rec.Topic != board.Topic {
			continue
		}
		st.LessonsCompleted++
		masteryTotal += int(rec.MasteryPercent)
	}
	if st.LessonsCompleted > 0 {
		st.AvgMastery = float64(masteryTotal) / float64(st.LessonsCompleted)
	}
	if board.Scope == leaderboard.ScopeTopic && st.LessonsCompleted == 0 {
		return st, false
	}
	return st, true
}

func (r RankingIndex) Standing(_ context.Context, board leaderboard.Board, userID string) (leaderboard.Standing, error) {
	if err := board.Validate(); err != nil {
		return leaderboard.Standing{}, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	gs, ok := r.s.states[userID]
	if !ok || !r.s.users[userID] {
		return leaderboard.Standing{}, shared.ErrGameStateNotFound
	}
	st, _ := r.s.standingOf(board, userID)
	st.XP = gs.XP.Int()
	st.Streak = gs.Streak.Current

	mine := board.Score(st)
	ahead := 0
	for _, other := range r.s.population(board) {
		if board.Score(other) > mine {
			ahead++
		}
	}
	st.Rank = leaderboard.RankFromAhead(ahead)
	return st, nil
}

func (r RankingIndex) Top(_ context.Context, board leaderboard.Board, n int) ([]leaderboard.Standing, error) {
	if err := board.Validate(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, shared.ErrInvalidLimit
	}
	r.s.mu.RLock()
	all := r.s.population(board)
	r.s.mu.RUnlock()

	return leaderboard.NewRanking(board, all).Top(n), nil
}

func (r RankingIndex) Count(_ context.Context, board leaderboard.Board) (int, error) {
	if err := board.Validate(); err != nil {
		return 0, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return len(r.s.population(board)), nil
}
