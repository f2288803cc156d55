package query

import (
	"context"
	"time"

	"github.com/microlearn/gamification-engine/internal/domain/leaderboard"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Top-N of the global board or of one topic board.
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardResult is one page of a board.
type LeaderboardResult struct {
	Scope leaderboard.Scope `json:"scope"`
	Topic string            `json:"topic,omitempty"`

	Entries []leaderboard.Entry `json:"leaderboard"`

	// Total is the number of users on the board.
	Total int `json:"total"`

	GeneratedAt time.Time `json:"generatedAt"`
}

// GetGlobal returns the top limit users by XP. limit 0 means the default.
func (s *LeaderboardQueryService) GetGlobal(ctx context.Context, limit int) (*LeaderboardResult, error) {
	defer s.metrics.ObserveQuery("get_global", time.Now())
	return s.top(ctx, leaderboard.Global(), limit)
}

// GetTopic returns the top limit users of a topic by completed lessons.
func (s *LeaderboardQueryService) GetTopic(ctx context.Context, topic string, limit int) (*LeaderboardResult, error) {
	defer s.metrics.ObserveQuery("get_topic", time.Now())

	board, err := leaderboard.NewBoard(string(leaderboard.ScopeTopic), topic)
	if err != nil {
		return nil, err
	}
	return s.top(ctx, board, limit)
}

func (s *LeaderboardQueryService) top(ctx context.Context, board leaderboard.Board, limit int) (*LeaderboardResult, error) {
	n, err := s.resolveLimit(limit)
	if err != nil {
		return nil, err
	}

	snap, err := s.listing(ctx, board)
	if err != nil {
		return nil, err
	}
	rows := snap.Ranking().Top(n)

	return &LeaderboardResult{
		Scope:       board.Scope,
		Topic:       board.Topic,
		Entries:     s.hydrate(ctx, rows),
		Total:       snap.Population,
		GeneratedAt: snap.TakenAt,
	}, nil
}
