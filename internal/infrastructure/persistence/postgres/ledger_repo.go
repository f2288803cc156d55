package postgres

import (
	"context"
	"time"

	"github.com/microlearn/gamification-engine/internal/domain/ledger"
	"github.com/microlearn/gamification-engine/internal/domain/shared"
)

// LedgerRepository implements ledger.Ledger and ledger.Reader.
type LedgerRepository struct {
	q Querier
}

// NewLedgerRepository creates a ledger repository on q.
func NewLedgerRepository(q Querier) *LedgerRepository {
	return &LedgerRepository{q: q}
}

// Append records the event. An id already present yields
// shared.ErrDuplicateEvent and leaves the stored event untouched.
func (r *LedgerRepository) Append(ctx context.Context, e ledger.LearningEvent) error {
	query := `
		INSERT INTO learning_events (
			id, user_id, kind, subject_id, topic, score, progress_percent,
			time_spent_seconds, mastery, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`

	tag, err := r.q.Exec(ctx, query,
		e.ID,
		e.UserID,
		string(e.Kind),
		e.SubjectID,
		e.Topic,
		e.Score,
		e.ProgressPercent,
		e.TimeSpentSeconds,
		e.Mastery,
		e.Timestamp,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrDuplicateEvent
		}
		return mapError("ledger", "Append", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrDuplicateEvent
	}
	return nil
}

// ListByUser returns the user's events since the given time, oldest first.
func (r *LedgerRepository) ListByUser(ctx context.Context, userID string, since time.Time) ([]ledger.LearningEvent, error) {
	query := `
		SELECT id, user_id, kind, subject_id, topic, score, progress_percent,
			time_spent_seconds, mastery, occurred_at
		FROM learning_events
		WHERE user_id = $1 AND occurred_at >= $2
		ORDER BY occurred_at, recorded_at`

	rows, err := r.q.Query(ctx, query, userID, since)
	if err != nil {
		return nil, mapError("ledger", "ListByUser", err)
	}
	defer rows.Close()

	out := make([]ledger.LearningEvent, 0)
	for rows.Next() {
		var (
			e    ledger.LearningEvent
			kind string
		)
		if err := rows.Scan(
			&e.ID,
			&e.UserID,
			&kind,
			&e.SubjectID,
			&e.Topic,
			&e.Score,
			&e.ProgressPercent,
			&e.TimeSpentSeconds,
			&e.Mastery,
			&e.Timestamp,
		); err != nil {
			return nil, mapError("ledger", "ListByUser", err)
		}
		e.Kind = ledger.Kind(kind)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("ledger", "ListByUser", err)
	}
	return out, nil
}
