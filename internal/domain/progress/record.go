// Package progress holds the per-(user, lesson) progress record and the pure
// merge rules that fold a progress update into it.
package progress

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/microlearn/gamification-engine/internal/domain/shared"
)

// Status is the lifecycle state of a progress record.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// ParseStatus validates a status label. Hyphenated spellings are accepted too.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "not_started", "not-started":
		return StatusNotStarted, nil
	case "in_progress", "in-progress":
		return StatusInProgress, nil
	case "completed":
		return StatusCompleted, nil
	default:
		return "", shared.ErrInvalidStatus
	}
}

const statusTag = "progress_status"

func init() {
	_ = shared.Validate.RegisterValidation(statusTag, func(fl validator.FieldLevel) bool {
		_, err := ParseStatus(fl.Field().String())
		return err == nil
	})
}

// Record tracks one user's progress through one lesson.
type Record struct {
	UserID   string `json:"userId"`
	LessonID string `json:"lessonId"`
	// Topic is the normalized topic of the lesson, copied from the catalog so
	// topic boards can aggregate without touching content.
	Topic string `json:"topic"`

	Status           Status          `json:"status"`
	ProgressPercent  shared.Percent  `json:"progress"`
	TimeSpentSeconds int             `json:"timeSpent"`
	MasteryPercent   shared.Percent  `json:"mastery"`
	Attempts         int             `json:"attempts"`
	BestScore        *shared.Percent `json:"score,omitempty"`
	LastAccessedAt   time.Time       `json:"lastAccessed"`
	// CompletedAt is stamped once, on the first transition into completed,
	// and never cleared.
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsCompleted reports whether the record is currently completed.
func (r *Record) IsCompleted() bool {
	return r.Status == StatusCompleted
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	if r.BestScore != nil {
		s := *r.BestScore
		cp.BestScore = &s
	}
	if r.CompletedAt != nil {
		c := *r.CompletedAt
		cp.CompletedAt = &c
	}
	return &cp
}

// Update is one progress report for a (user, lesson) pair.
type Update struct {
	ProgressPercent shared.Percent  `validate:"min=0,max=100"`
	TimeSpentDelta  int             `validate:"min=0"`
	Status          *Status         `validate:"omitempty,progress_status"`
	Score           *shared.Percent `validate:"omitempty,min=0,max=100"`
	Mastery         *shared.Percent `validate:"omitempty,min=0,max=100"`
}

var updateErrors = map[string]error{
	"ProgressPercent": shared.ErrInvalidPercent,
	"TimeSpentDelta":  shared.ErrInvalidTimeDelta,
	"Status":          shared.ErrInvalidStatus,
	"Score":           shared.ErrInvalidScore,
	"Mastery":         shared.ErrInvalidMastery,
}

// Validate rejects malformed updates before anything is mutated.
func (u Update) Validate() error {
	v := shared.CheckStruct(u)
	if v == nil {
		return nil
	}
	if err, ok := updateErrors[v.StructField]; ok {
		return err
	}
	return v
}

// Transition is the outcome of folding an Update into a record.
type Transition struct {
	Previous Status
	Record   *Record
	Created  bool
	// NewlyCompleted is the XP edge: the record entered completed for the
	// first time. Replays and re-completions leave it false.
	NewlyCompleted bool
}

// Apply folds u into existing (nil when no record exists yet) and returns the
// resulting record. existing is not modified.
func Apply(existing *Record, userID, lessonID, topic string, u Update, now time.Time) (Transition, error) {
	if err := u.Validate(); err != nil {
		return Transition{}, err
	}
	if u.Status != nil {
		// store the canonical spelling, not the hyphenated alias
		st, _ := ParseStatus(string(*u.Status))
		u.Status = &st
	}

	if existing == nil {
		rec := &Record{
			UserID:           userID,
			LessonID:         lessonID,
			Topic:            topic,
			ProgressPercent:  u.ProgressPercent,
			TimeSpentSeconds: u.TimeSpentDelta,
			Attempts:         1,
			LastAccessedAt:   now,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		switch {
		case u.Status != nil:
			rec.Status = *u.Status
		case u.ProgressPercent == 100:
			rec.Status = StatusCompleted
		default:
			rec.Status = StatusInProgress
		}
		if u.Score != nil {
			s := *u.Score
			rec.BestScore = &s
		}
		if u.Mastery != nil {
			rec.MasteryPercent = *u.Mastery
		}

		t := Transition{Previous: StatusNotStarted, Record: rec, Created: true}
		t.NewlyCompleted = markCompletion(rec, StatusNotStarted, now)
		return t, nil
	}

	rec := existing.Clone()
	previous := rec.Status

	rec.ProgressPercent = rec.ProgressPercent.Max(u.ProgressPercent)
	rec.TimeSpentSeconds += u.TimeSpentDelta
	rec.Attempts++
	rec.LastAccessedAt = now
	rec.UpdatedAt = now

	switch {
	case u.Status != nil:
		rec.Status = *u.Status
	case u.ProgressPercent == 100 && rec.Status != StatusCompleted:
		rec.Status = StatusCompleted
	}

	if u.Score != nil {
		if rec.BestScore == nil {
			s := *u.Score
			rec.BestScore = &s
		} else {
			s := rec.BestScore.Max(*u.Score)
			rec.BestScore = &s
		}
	}
	if u.Mastery != nil {
		rec.MasteryPercent = rec.MasteryPercent.Max(*u.Mastery)
	}

	t := Transition{Previous: previous, Record: rec}
	t.NewlyCompleted = markCompletion(rec, previous, now)
	return t, nil
}

// markCompletion stamps CompletedAt on the first entry into completed and
// reports whether this call crossed that edge.
func markCompletion(rec *Record, previous Status, now time.Time) bool {
	if rec.Status != StatusCompleted || previous == StatusCompleted {
		return false
	}
	if rec.CompletedAt != nil {
		return false
	}
	at := now
	rec.CompletedAt = &at
	return true
}
