package progress

import (
	"context"
	"time"

	"github.com/microlearn/gamification-engine/internal/domain/shared"
)

// Repository persists progress records. Implementations used inside a unit of
// work see the transaction's own writes.
type Repository interface {
	// Get returns the record or shared.ErrProgressNotFound.
	Get(ctx context.Context, userID, lessonID string) (*Record, error)

	// Save inserts or replaces the record for (UserID, LessonID).
	Save(ctx context.Context, rec *Record) error
}

// ReadRepository serves the read-side progress queries.
type ReadRepository interface {
	Get(ctx context.Context, userID, lessonID string) (*Record, error)

	// ListByUser returns a page ordered by LastAccessedAt descending and the
	// total number of records for the user.
	ListByUser(ctx context.Context, userID string, page shared.Pagination) ([]*Record, int, error)

	// ListAccessedSince returns records accessed at or after since, newest first.
	ListAccessedSince(ctx context.Context, userID string, since time.Time) ([]*Record, error)

	// Summarize aggregates the user's records.
	Summarize(ctx context.Context, userID string) (Summary, error)
}

// Summary is the per-user aggregate over all progress records.
type Summary struct {
	LessonsStarted   int
	LessonsCompleted int
	TimeSpentSeconds int
	AverageMastery   float64
}

// Summarize computes a Summary in memory. Stores without server-side
// aggregation use it.
func Summarize(records []*Record) Summary {
	var s Summary
	masteryTotal := 0
	for _, r := range records {
		s.LessonsStarted++
		if r.IsCompleted() {
			s.LessonsCompleted++
		}
		s.TimeSpentSeconds += r.TimeSpentSeconds
		masteryTotal += int(r.MasteryPercent)
	}
	if s.LessonsStarted > 0 {
		s.AverageMastery = float64(masteryTotal) / float64(s.LessonsStarted)
	}
	return s
}
