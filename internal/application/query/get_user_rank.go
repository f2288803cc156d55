package query

import (
	"context"
	"time"

	"github.com/microlearn/gamification-engine/internal/domain/leaderboard"
	"github.com/microlearn/gamification-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET USER RANK QUERY
// The user's position on a board, computed as one plus the number of users
// strictly ahead. Works at any depth, not only inside the listing.
// ══════════════════════════════════════════════════════════════════════════════

// UserRankQuery selects a user and a board.
type UserRankQuery struct {
	UserID string `validate:"notblank"`
	// Scope is "global" (default) or "topic".
	Scope string
	Topic string
}

// Validate builds the board and checks the user id.
func (q UserRankQuery) Validate() (leaderboard.Board, error) {
	if v := shared.CheckStruct(q); v != nil {
		return leaderboard.Board{}, shared.WrapError("leaderboard", "GetUserRank", v.Kind, v.Message, v)
	}
	return leaderboard.NewBoard(q.Scope, q.Topic)
}

// UserRankResult is the user's hydrated row plus board size.
type UserRankResult struct {
	Scope leaderboard.Scope `json:"scope"`
	Topic string            `json:"topic,omitempty"`

	Entry leaderboard.Entry `json:"entry"`
	Rank  int               `json:"rank"`

	// Total is the number of users on the board.
	Total int `json:"total"`
}

// GetUserRank returns the user's rank. A user without a game state yields
// a not-found error.
func (s *LeaderboardQueryService) GetUserRank(ctx context.Context, q UserRankQuery) (*UserRankResult, error) {
	defer s.metrics.ObserveQuery("get_user_rank", time.Now())

	board, err := q.Validate()
	if err != nil {
		return nil, err
	}

	standing, err := s.index.Standing(ctx, board, q.UserID)
	if err != nil {
		return nil, err
	}
	total, err := s.index.Count(ctx, board)
	if err != nil {
		return nil, err
	}

	entries := s.hydrate(ctx, []leaderboard.Standing{standing})
	return &UserRankResult{
		Scope: board.Scope,
		Topic: board.Topic,
		Entry: entries[0],
		Rank:  standing.Rank,
		Total: total,
	}, nil
}
