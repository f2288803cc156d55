package query

import (
	"context"
	"errors"
	"math"

	"github.com/microlearn/gamification-engine/internal/domain/gamestate"
	"github.com/microlearn/gamification-engine/internal/domain/progress"
	"github.com/microlearn/gamification-engine/internal/domain/shared"
	"github.com/microlearn/gamification-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS QUERIES
// Per-user progress reads: one lesson, a page of lessons, aggregate stats and
// the recent learning timeline.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultTimelineDays is the timeline window when none is requested.
const DefaultTimelineDays = 30

// GameStateReader reads game states.
type GameStateReader interface {
	Get(ctx context.Context, userID string) (*gamestate.GameState, error)
}

// ProgressQueryService serves progress reads.
type ProgressQueryService struct {
	records  progress.ReadRepository
	states   GameStateReader
	calendar *timeutil.Calendar
}

// NewProgressQueryService creates the service. A nil calendar means UTC.
func NewProgressQueryService(records progress.ReadRepository, states GameStateReader, calendar *timeutil.Calendar) *ProgressQueryService {
	if calendar == nil {
		calendar = timeutil.UTC()
	}
	return &ProgressQueryService{records: records, states: states, calendar: calendar}
}

func requireID(op, name, id string) error {
	if v := shared.CheckVar(name, id, shared.NotBlankTag); v != nil {
		return shared.WrapError("progress", op, v.Kind, v.Message, v)
	}
	return nil
}

// GetLessonProgress returns one record or shared.ErrProgressNotFound.
func (s *ProgressQueryService) GetLessonProgress(ctx context.Context, userID, lessonID string) (*progress.Record, error) {
	if err := requireID("GetLessonProgress", "user_id", userID); err != nil {
		return nil, err
	}
	if err := requireID("GetLessonProgress", "lesson_id", lessonID); err != nil {
		return nil, err
	}
	return s.records.Get(ctx, userID, lessonID)
}

// ProgressPage is a page of records, most recently accessed first.
type ProgressPage struct {
	Records    []*progress.Record `json:"progress"`
	Pagination shared.PageInfo    `json:"pagination"`
}

// ListUserProgress returns a page of the user's records.
func (s *ProgressQueryService) ListUserProgress(ctx context.Context, userID string, page, pageSize int) (*ProgressPage, error) {
	if err := requireID("ListUserProgress", "user_id", userID); err != nil {
		return nil, err
	}
	p := shared.NewPagination(page, pageSize)
	records, total, err := s.records.ListByUser(ctx, userID, p)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []*progress.Record{}
	}
	return &ProgressPage{Records: records, Pagination: shared.NewPageInfo(p, total)}, nil
}

// UserStats aggregates a user's progress and game state.
type UserStats struct {
	TotalLessonsStarted   int `json:"totalLessonsStarted"`
	TotalLessonsCompleted int `json:"totalLessonsCompleted"`
	// TotalTimeSpent is in minutes, rounded.
	TotalTimeSpent int `json:"totalTimeSpent"`
	AverageMastery int `json:"averageMastery"`
	CurrentStreak  int `json:"currentStreak"`
	LongestStreak  int `json:"longestStreak"`
	XPEarned       int `json:"xpEarned"`
	Level          int `json:"level"`
}

// GetUserStats returns the user's aggregate. A user with neither a game state
// nor any progress is not found.
func (s *ProgressQueryService) GetUserStats(ctx context.Context, userID string) (*UserStats, error) {
	if err := requireID("GetUserStats", "user_id", userID); err != nil {
		return nil, err
	}

	sum, err := s.records.Summarize(ctx, userID)
	if err != nil {
		return nil, err
	}
	gs, err := s.states.Get(ctx, userID)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		if sum.LessonsStarted == 0 {
			return nil, shared.ErrGameStateNotFound
		}
		gs = gamestate.New(userID, s.calendar.Now())
	case err != nil:
		return nil, err
	}

	return &UserStats{
		TotalLessonsStarted:   sum.LessonsStarted,
		TotalLessonsCompleted: sum.LessonsCompleted,
		TotalTimeSpent:        int(math.Round(float64(sum.TimeSpentSeconds) / 60)),
		AverageMastery:        int(math.Round(sum.AverageMastery)),
		CurrentStreak:         gs.Streak.Current,
		LongestStreak:         gs.Streak.Longest,
		XPEarned:              gs.XP.Int(),
		Level:                 gs.Level(),
	}, nil
}

// GetLearningTimeline returns records accessed in the last days calendar days,
// newest first. days <= 0 means DefaultTimelineDays.
func (s *ProgressQueryService) GetLearningTimeline(ctx context.Context, userID string, days int) ([]*progress.Record, error) {
	if err := requireID("GetLearningTimeline", "user_id", userID); err != nil {
		return nil, err
	}
	if days <= 0 {
		days = DefaultTimelineDays
	}
	records, err := s.records.ListAccessedSince(ctx, userID, s.calendar.DaysAgo(days))
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []*progress.Record{}
	}
	return records, nil
}
