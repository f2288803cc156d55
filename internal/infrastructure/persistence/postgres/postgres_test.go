package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microlearn/gamification-engine/internal/domain/leaderboard"
	"github.com/microlearn/gamification-engine/internal/domain/ledger"
	"github.com/microlearn/gamification-engine/internal/domain/shared"
)

// fakeQuerier records statements and answers with canned results.
type fakeQuerier struct {
	execTag  pgconn.CommandTag
	execErr  error
	rowErr   error
	lastSQL  string
	lastArgs []interface{}
}

func (f *fakeQuerier) Exec(_ context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	f.lastSQL, f.lastArgs = sql, args
	return f.execTag, f.execErr
}

func (f *fakeQuerier) Query(_ context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	f.lastSQL, f.lastArgs = sql, args
	return nil, errors.New("not supported")
}

func (f *fakeQuerier) QueryRow(_ context.Context, sql string, args ...interface{}) pgx.Row {
	f.lastSQL, f.lastArgs = sql, args
	return fakeRow{err: f.rowErr}
}

type fakeRow struct{ err error }

func (r fakeRow) Scan(...interface{}) error { return r.err }

func TestMapError(t *testing.T) {
	assert.NoError(t, mapError("uow", "Do", nil))

	conflict := mapError("uow", "Do", &pgconn.PgError{Code: codeSerializationFailure})
	assert.True(t, shared.IsConflict(conflict))
	assert.True(t, shared.IsRetryable(conflict))

	deadlock := mapError("uow", "Do", &pgconn.PgError{Code: codeDeadlockDetected})
	assert.True(t, shared.IsConflict(deadlock))

	closed := mapError("uow", "Do", ErrConnectionClosed)
	assert.True(t, shared.IsCollaboratorUnavailable(closed))

	// domain errors raised inside a transaction keep their kind
	assert.Same(t, shared.ErrDuplicateEvent, mapError("uow", "Do", shared.ErrDuplicateEvent))

	other := mapError("progress", "Save", &pgconn.PgError{Code: "23514"})
	assert.False(t, shared.IsConflict(other))
	assert.False(t, shared.IsRetryable(other))
	assert.Contains(t, other.Error(), "progress.Save")
}

func TestLedgerAppend_DuplicateIsAlreadyProcessed(t *testing.T) {
	q := &fakeQuerier{execTag: pgconn.NewCommandTag("INSERT 0 0")}
	repo := NewLedgerRepository(q)
	score := 80

	err := repo.Append(context.Background(), ledger.LearningEvent{
		ID: "e1", UserID: "u1", Kind: ledger.KindQuizScored, SubjectID: "q1",
		Score: &score, Timestamp: time.Now(),
	})
	assert.True(t, shared.IsAlreadyProcessed(err))
	assert.Contains(t, q.lastSQL, "ON CONFLICT (id) DO NOTHING")
	assert.Equal(t, "quiz_scored", q.lastArgs[2])

	q.execTag = pgconn.NewCommandTag("INSERT 0 1")
	assert.NoError(t, repo.Append(context.Background(), ledger.LearningEvent{ID: "e2", UserID: "u1", Kind: ledger.KindCheckin}))

	q.execErr = &pgconn.PgError{Code: codeUniqueViolation}
	assert.True(t, shared.IsAlreadyProcessed(repo.Append(context.Background(), ledger.LearningEvent{ID: "e2"})))
}

func TestNotFoundMapping(t *testing.T) {
	q := &fakeQuerier{rowErr: pgx.ErrNoRows}
	ctx := context.Background()

	_, err := NewCatalog(q).Lesson(ctx, "nope")
	assert.ErrorIs(t, err, shared.ErrLessonNotFound)

	_, err = NewProgressRepository(q).Get(ctx, "u1", "l1")
	assert.ErrorIs(t, err, shared.ErrProgressNotFound)

	_, err = NewGameStateRepository(q).Get(ctx, "u1")
	assert.ErrorIs(t, err, shared.ErrGameStateNotFound)

	_, err = NewRankingIndex(q).Standing(ctx, leaderboard.Global(), "u1")
	assert.ErrorIs(t, err, shared.ErrGameStateNotFound)
}

func TestBoardQuery(t *testing.T) {
	global := newBoardQuery(leaderboard.Global())
	assert.Equal(t, "xp", global.score)
	assert.Equal(t, `xp DESC, user_id COLLATE "C"`, global.order)
	assert.Empty(t, global.args)
	assert.NotContains(t, global.with, "topic = $1")
	assert.NotContains(t, global.with, "WHERE lessons > 0")

	topic := newBoardQuery(leaderboard.ForTopic(" Algebra "))
	assert.Equal(t, "lessons", topic.score)
	assert.Equal(t, `lessons DESC, avg_mastery DESC, user_id COLLATE "C"`, topic.order)
	assert.Equal(t, []interface{}{"algebra"}, topic.args)
	assert.Contains(t, topic.with, "topic = $1")
	assert.Contains(t, topic.with, "WHERE lessons > 0")
	assert.Equal(t, "$2", topic.arg("u1"))
}

func TestRankingIndex_Validation(t *testing.T) {
	r := NewRankingIndex(&fakeQuerier{})
	ctx := context.Background()

	_, err := r.Top(ctx, leaderboard.Global(), 0)
	assert.ErrorIs(t, err, shared.ErrInvalidLimit)

	_, err = r.Count(ctx, leaderboard.Board{Scope: leaderboard.ScopeTopic})
	assert.True(t, shared.IsValidation(err))
}

func TestMigrations(t *testing.T) {
	migs := GetMigrations()
	require.Len(t, migs, 3)
	for i, m := range migs {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.UpSQL)
		assert.NotEmpty(t, m.DownSQL)
	}

	todo := pending([]Migration{{Version: 3}, {Version: 1}, {Version: 2}}, map[int]time.Time{1: time.Now()})
	require.Len(t, todo, 2)
	assert.Equal(t, 2, todo[0].Version)
	assert.Equal(t, 3, todo[1].Version)
}

func TestConfigDSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Password = "pw"
	assert.Equal(t,
		"host=localhost port=5432 dbname=gamification user=postgres password=pw sslmode=disable connect_timeout=10",
		cfg.DSN())
}

func TestConfigPoolConfig_URLWins(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "postgres://engine:pw@db:6543/ranks?sslmode=disable"
	cfg.MaxConns = 7

	pc, err := cfg.PoolConfig()
	require.NoError(t, err)
	assert.Equal(t, "db", pc.ConnConfig.Host)
	assert.Equal(t, uint16(6543), pc.ConnConfig.Port)
	assert.Equal(t, "ranks", pc.ConnConfig.Database)
	assert.Equal(t, int32(7), pc.MaxConns)
}
