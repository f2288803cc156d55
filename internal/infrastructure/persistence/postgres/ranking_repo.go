package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/microlearn/gamification-engine/internal/domain/leaderboard"
	"github.com/microlearn/gamification-engine/internal/domain/shared"
)

// RankingIndex implements leaderboard.RankingIndex by aggregating the
// authoritative tables on every call. Ranks come from RANK(), which is one
// plus the number of rows with a strictly greater score.
type RankingIndex struct {
	q Querier
}

// NewRankingIndex creates a ranking index on q.
func NewRankingIndex(q Querier) *RankingIndex {
	return &RankingIndex{q: q}
}

// boardQuery holds the CTEs for one board. candidates are all active users
// with a game state; population is the subset that appears on the board.
type boardQuery struct {
	with  string
	args  []interface{}
	score string
	order string
}

func newBoardQuery(board leaderboard.Board) boardQuery {
	q := boardQuery{
		score: "xp",
		order: `xp DESC, user_id COLLATE "C"`,
	}

	topicFilter := ""
	populationFilter := ""
	if board.Scope == leaderboard.ScopeTopic {
		q.args = append(q.args, board.Topic)
		topicFilter = "AND topic = $1"
		populationFilter = "WHERE lessons > 0"
		q.score = "lessons"
		q.order = `lessons DESC, avg_mastery DESC, user_id COLLATE "C"`
	}

	q.with = fmt.Sprintf(`
		WITH completed AS (
			SELECT user_id, COUNT(*) AS lessons, AVG(mastery_percent)::float8 AS avg_mastery
			FROM progress_records
			WHERE status = 'completed' %s
			GROUP BY user_id
		),
		candidates AS (
			SELECT g.user_id, g.xp, g.streak_current,
				COALESCE(c.lessons, 0) AS lessons,
				COALESCE(c.avg_mastery, 0) AS avg_mastery
			FROM game_states g
			JOIN users u ON u.id = g.user_id AND u.active
			LEFT JOIN completed c ON c.user_id = g.user_id
		),
		population AS (
			SELECT * FROM candidates %s
		)`, topicFilter, populationFilter)
	return q
}

// arg appends a positional argument and returns its placeholder.
func (q *boardQuery) arg(v interface{}) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

// Standing returns the user's row with rank. Users without a game state or
// inactive users yield shared.ErrGameStateNotFound.
func (r *RankingIndex) Standing(ctx context.Context, board leaderboard.Board, userID string) (leaderboard.Standing, error) {
	if err := board.Validate(); err != nil {
		return leaderboard.Standing{}, err
	}

	q := newBoardQuery(board)
	placeholder := q.arg(userID)
	query := q.with + fmt.Sprintf(`
		SELECT c.user_id, c.xp, c.streak_current, c.lessons, c.avg_mastery,
			(SELECT COUNT(*) FROM population p WHERE p.%[1]s > c.%[1]s) + 1
		FROM candidates c
		WHERE c.user_id = %[2]s`, q.score, placeholder)

	st, err := scanStanding(r.q.QueryRow(ctx, query, q.args...))
	if IsNoRows(err) {
		return leaderboard.Standing{}, shared.ErrGameStateNotFound
	}
	if err != nil {
		return leaderboard.Standing{}, mapError("leaderboard", "Standing", err)
	}
	return st, nil
}

// Top returns at most n rows in board order with ranks assigned.
func (r *RankingIndex) Top(ctx context.Context, board leaderboard.Board, n int) ([]leaderboard.Standing, error) {
	if err := board.Validate(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, shared.ErrInvalidLimit
	}

	q := newBoardQuery(board)
	limit := q.arg(n)
	query := q.with + fmt.Sprintf(`
		SELECT user_id, xp, streak_current, lessons, avg_mastery,
			RANK() OVER (ORDER BY %s DESC)
		FROM population
		ORDER BY %s
		LIMIT %s`, q.score, q.order, limit)

	rows, err := r.q.Query(ctx, query, q.args...)
	if err != nil {
		return nil, mapError("leaderboard", "Top", err)
	}
	defer rows.Close()

	out := make([]leaderboard.Standing, 0, n)
	for rows.Next() {
		st, err := scanStanding(rows)
		if err != nil {
			return nil, mapError("leaderboard", "Top", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("leaderboard", "Top", err)
	}
	return out, nil
}

// Count returns the number of users on the board.
func (r *RankingIndex) Count(ctx context.Context, board leaderboard.Board) (int, error) {
	if err := board.Validate(); err != nil {
		return 0, err
	}

	q := newBoardQuery(board)
	var n int
	if err := r.q.QueryRow(ctx, q.with+` SELECT COUNT(*) FROM population`, q.args...).Scan(&n); err != nil {
		return 0, mapError("leaderboard", "Count", err)
	}
	return n, nil
}

func scanStanding(row pgx.Row) (leaderboard.Standing, error) {
	var st leaderboard.Standing
	err := row.Scan(
		&st.UserID,
		&st.XP,
		&st.Streak,
		&st.LessonsCompleted,
		&st.AvgMastery,
		&st.Rank,
	)
	return st, err
}
