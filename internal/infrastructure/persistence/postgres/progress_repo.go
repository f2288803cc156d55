package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/microlearn/gamification-engine/internal/domain/progress"
	"github.com/microlearn/gamification-engine/internal/domain/shared"
)

// ProgressRepository implements progress.Repository and
// progress.ReadRepository. Inside a unit of work it runs on the transaction;
// on the read side it runs on the pool.
type ProgressRepository struct {
	q Querier
}

// NewProgressRepository creates a progress repository on q.
func NewProgressRepository(q Querier) *ProgressRepository {
	return &ProgressRepository{q: q}
}

const progressColumns = `
	user_id, lesson_id, topic, status, progress_percent, time_spent_seconds,
	mastery_percent, attempts, best_score, last_accessed_at, completed_at,
	created_at, updated_at`

// Get returns the record or shared.ErrProgressNotFound.
func (r *ProgressRepository) Get(ctx context.Context, userID, lessonID string) (*progress.Record, error) {
	query := `SELECT ` + progressColumns + ` FROM progress_records WHERE user_id = $1 AND lesson_id = $2`

	rec, err := scanProgress(r.q.QueryRow(ctx, query, userID, lessonID))
	if IsNoRows(err) {
		return nil, shared.ErrProgressNotFound
	}
	if err != nil {
		return nil, mapError("progress", "Get", err)
	}
	return rec, nil
}

// Save upserts the record for (UserID, LessonID).
func (r *ProgressRepository) Save(ctx context.Context, rec *progress.Record) error {
	query := `
		INSERT INTO progress_records (` + progressColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (user_id, lesson_id) DO UPDATE SET
			topic = EXCLUDED.topic,
			status = EXCLUDED.status,
			progress_percent = EXCLUDED.progress_percent,
			time_spent_seconds = EXCLUDED.time_spent_seconds,
			mastery_percent = EXCLUDED.mastery_percent,
			attempts = EXCLUDED.attempts,
			best_score = EXCLUDED.best_score,
			last_accessed_at = EXCLUDED.last_accessed_at,
			completed_at = COALESCE(progress_records.completed_at, EXCLUDED.completed_at),
			updated_at = EXCLUDED.updated_at`

	var bestScore *int
	if rec.BestScore != nil {
		v := int(*rec.BestScore)
		bestScore = &v
	}

	_, err := r.q.Exec(ctx, query,
		rec.UserID,
		rec.LessonID,
		rec.Topic,
		string(rec.Status),
		int(rec.ProgressPercent),
		rec.TimeSpentSeconds,
		int(rec.MasteryPercent),
		rec.Attempts,
		bestScore,
		rec.LastAccessedAt,
		rec.CompletedAt,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	return mapError("progress", "Save", err)
}

// ListByUser returns a page ordered by last access, newest first, and the
// user's total record count.
func (r *ProgressRepository) ListByUser(ctx context.Context, userID string, page shared.Pagination) ([]*progress.Record, int, error) {
	var total int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM progress_records WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, mapError("progress", "ListByUser", err)
	}
	if total == 0 {
		return []*progress.Record{}, 0, nil
	}

	query := `SELECT ` + progressColumns + `
		FROM progress_records
		WHERE user_id = $1
		ORDER BY last_accessed_at DESC, lesson_id
		LIMIT $2 OFFSET $3`

	rows, err := r.q.Query(ctx, query, userID, page.Limit(), page.Offset())
	if err != nil {
		return nil, 0, mapError("progress", "ListByUser", err)
	}
	recs, err := collectProgress(rows)
	if err != nil {
		return nil, 0, mapError("progress", "ListByUser", err)
	}
	return recs, total, nil
}

// ListAccessedSince returns records accessed at or after since, newest first.
func (r *ProgressRepository) ListAccessedSince(ctx context.Context, userID string, since time.Time) ([]*progress.Record, error) {
	query := `SELECT ` + progressColumns + `
		FROM progress_records
		WHERE user_id = $1 AND last_accessed_at >= $2
		ORDER BY last_accessed_at DESC, lesson_id`

	rows, err := r.q.Query(ctx, query, userID, since)
	if err != nil {
		return nil, mapError("progress", "ListAccessedSince", err)
	}
	recs, err := collectProgress(rows)
	if err != nil {
		return nil, mapError("progress", "ListAccessedSince", err)
	}
	return recs, nil
}

// Summarize aggregates the user's records on the server.
func (r *ProgressRepository) Summarize(ctx context.Context, userID string) (progress.Summary, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COALESCE(SUM(time_spent_seconds), 0),
			COALESCE(AVG(mastery_percent), 0)::float8
		FROM progress_records
		WHERE user_id = $1`

	var s progress.Summary
	err := r.q.QueryRow(ctx, query, userID).Scan(
		&s.LessonsStarted,
		&s.LessonsCompleted,
		&s.TimeSpentSeconds,
		&s.AverageMastery,
	)
	if err != nil {
		return progress.Summary{}, mapError("progress", "Summarize", err)
	}
	return s, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SCANNING
// ══════════════════════════════════════════════════════════════════════════════

func scanProgress(row pgx.Row) (*progress.Record, error) {
	var (
		rec       progress.Record
		status    string
		pct       int
		mastery   int
		bestScore *int
	)
	err := row.Scan(
		&rec.UserID,
		&rec.LessonID,
		&rec.Topic,
		&status,
		&pct,
		&rec.TimeSpentSeconds,
		&mastery,
		&rec.Attempts,
		&bestScore,
		&rec.LastAccessedAt,
		&rec.CompletedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = progress.Status(status)
	rec.ProgressPercent = shared.Percent(pct)
	rec.MasteryPercent = shared.Percent(mastery)
	if bestScore != nil {
		p := shared.Percent(*bestScore)
		rec.BestScore = &p
	}
	return &rec, nil
}

func collectProgress(rows pgx.Rows) ([]*progress.Record, error) {
	defer rows.Close()

	out := make([]*progress.Record, 0)
	for rows.Next() {
		rec, err := scanProgress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
