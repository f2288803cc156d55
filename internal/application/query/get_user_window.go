package query

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/microlearn/gamification-engine/internal/domain/leaderboard"
	"github.com/microlearn/gamification-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET USER WINDOW QUERY
// The user's rank with up to Radius neighbors above and below, taken from the
// materialized listing. A user ranked below the listing gets the true rank
// and no neighbors.
// ══════════════════════════════════════════════════════════════════════════════

// UserWindowQuery selects a user, a board and a radius.
type UserWindowQuery struct {
	UserID string `validate:"notblank"`
	Scope  string
	Topic  string
	// Radius defaults to the configured radius. Negative is invalid.
	Radius int `validate:"gte=0"`
}

// UserWindowResult is the neighborhood of a user.
type UserWindowResult struct {
	Scope leaderboard.Scope `json:"scope"`
	Topic string            `json:"topic,omitempty"`

	Rank int               `json:"rank"`
	User leaderboard.Entry `json:"user"`

	// Entries are the neighbors including the user, in board order. Empty when
	// the user is outside the listing.
	Entries []leaderboard.Entry `json:"leaderboard"`

	// InWindow reports whether the user was found inside the listing.
	InWindow bool `json:"inWindow"`

	// TotalPlayers is the size of the listing the window was cut from.
	TotalPlayers int `json:"totalPlayers"`

	// Population is the number of users on the board.
	Population int `json:"population"`
}

// GetUserWindow returns the user's rank and surrounding players.
func (s *LeaderboardQueryService) GetUserWindow(ctx context.Context, q UserWindowQuery) (*UserWindowResult, error) {
	defer s.metrics.ObserveQuery("get_user_window", time.Now())

	if v := shared.CheckStruct(q); v != nil {
		return nil, shared.WrapError("leaderboard", "GetUserWindow", v.Kind, v.Message, v)
	}
	board, err := leaderboard.NewBoard(q.Scope, q.Topic)
	if err != nil {
		return nil, err
	}
	radius := q.Radius
	if radius == 0 {
		radius = s.config.DefaultRadius
	}

	var (
		standing leaderboard.Standing
		snap     *leaderboard.Snapshot
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		standing, err = s.index.Standing(gctx, board, q.UserID)
		return err
	})
	g.Go(func() error {
		var err error
		snap, err = s.listing(gctx, board)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rows, found := snap.Ranking().Window(q.UserID, radius)

	result := &UserWindowResult{
		Scope:        board.Scope,
		Topic:        board.Topic,
		Rank:         standing.Rank,
		InWindow:     found,
		TotalPlayers: len(snap.Standings),
		Population:   snap.Population,
	}

	if !found {
		result.User = s.hydrate(ctx, []leaderboard.Standing{standing})[0]
		result.Entries = []leaderboard.Entry{}
		return result, nil
	}

	// The listing may be a cached snapshot; the user's row in it is what the
	// neighbors are ranked against, so its rank is reported.
	entries := s.hydrate(ctx, rows)
	for _, e := range entries {
		if e.UserID == q.UserID {
			result.User = e
			result.Rank = e.Rank
		}
	}
	result.Entries = entries
	return result, nil
}
