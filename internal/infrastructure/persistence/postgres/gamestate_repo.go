package postgres

import (
	"context"
	"time"

	"github.com/microlearn/gamification-engine/internal/domain/gamestate"
	"github.com/microlearn/gamification-engine/internal/domain/shared"
)

// GameStateRepository implements gamestate.Repository.
type GameStateRepository struct {
	q Querier
}

// NewGameStateRepository creates a game state repository on q.
func NewGameStateRepository(q Querier) *GameStateRepository {
	return &GameStateRepository{q: q}
}

// Get returns the state or shared.ErrGameStateNotFound.
func (r *GameStateRepository) Get(ctx context.Context, userID string) (*gamestate.GameState, error) {
	query := `
		SELECT user_id, xp, streak_current, streak_longest, last_activity_date, updated_at
		FROM game_states
		WHERE user_id = $1`

	var (
		gs   gamestate.GameState
		xp   int
		last *time.Time
	)
	err := r.q.QueryRow(ctx, query, userID).Scan(
		&gs.UserID,
		&xp,
		&gs.Streak.Current,
		&gs.Streak.Longest,
		&last,
		&gs.UpdatedAt,
	)
	if IsNoRows(err) {
		return nil, shared.ErrGameStateNotFound
	}
	if err != nil {
		return nil, mapError("gamestate", "Get", err)
	}

	gs.XP = shared.XP(xp)
	if last != nil {
		d := time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, time.UTC)
		gs.Streak.LastActivityDate = &d
	}
	return &gs, nil
}

// Save upserts the state.
func (r *GameStateRepository) Save(ctx context.Context, gs *gamestate.GameState) error {
	query := `
		INSERT INTO game_states (user_id, xp, streak_current, streak_longest, last_activity_date, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			xp = EXCLUDED.xp,
			streak_current = EXCLUDED.streak_current,
			streak_longest = EXCLUDED.streak_longest,
			last_activity_date = EXCLUDED.last_activity_date,
			updated_at = EXCLUDED.updated_at`

	_, err := r.q.Exec(ctx, query,
		gs.UserID,
		gs.XP.Int(),
		gs.Streak.Current,
		gs.Streak.Longest,
		gs.Streak.LastActivityDate,
		gs.UpdatedAt,
	)
	return mapError("gamestate", "Save", err)
}
