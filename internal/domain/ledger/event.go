// Package ledger defines the immutable learning events consumed by the engine
// and the append-only log that deduplicates them.
package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/microlearn/gamification-engine/internal/domain/shared"
)

// Kind is the type of a learning event.
type Kind string

const (
	KindLessonCompleted Kind = "lesson_completed"
	KindQuizScored      Kind = "quiz_scored"
	KindCheckin         Kind = "checkin"
)

// LearningEvent is an immutable fact reported by the content layer.
type LearningEvent struct {
	ID     string `json:"id"`
	UserID string `json:"userId" validate:"notblank"`
	Kind   Kind   `json:"kind" validate:"oneof=lesson_completed quiz_scored checkin"`
	// SubjectID is the lesson (or quiz lesson) id. Empty for check-ins.
	SubjectID string `json:"subjectId,omitempty"`
	Topic     string `json:"topic,omitempty"`

	Score            *int `json:"score,omitempty" validate:"omitempty,min=0,max=100"`
	ProgressPercent  *int `json:"progressPercent,omitempty" validate:"omitempty,min=0,max=100"`
	TimeSpentSeconds int  `json:"timeSpentSeconds,omitempty" validate:"min=0"`
	Mastery          *int `json:"mastery,omitempty" validate:"omitempty,min=0,max=100"`

	Timestamp time.Time `json:"timestamp"`
}

// NewID returns a fresh event id.
func NewID() string {
	return uuid.NewString()
}

// DeriveID returns the id of an event that arrived without one, keyed by where
// it was read from. The same source always yields the same id, so a
// redelivered copy hits the ledger's duplicate check.
func DeriveID(source string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(source)).String()
}

// Normalize fills a missing id and timestamp and cleans the topic. Only events
// with no delivery source of their own should reach it without an id.
func (e *LearningEvent) Normalize(now time.Time) {
	if strings.TrimSpace(e.ID) == "" {
		e.ID = NewID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	e.Topic = shared.NormalizeTopic(e.Topic)
}

func init() {
	shared.Validate.RegisterStructValidation(eventStructValidation, LearningEvent{})
}

// eventStructValidation holds the rules that depend on the kind.
func eventStructValidation(sl validator.StructLevel) {
	e, ok := sl.Current().Interface().(LearningEvent)
	if !ok {
		return
	}
	if e.Kind != KindCheckin && strings.TrimSpace(e.SubjectID) == "" {
		sl.ReportError(e.SubjectID, "subjectId", "SubjectID", "required_unless_checkin", "")
	}
	if e.Kind == KindQuizScored && e.Score == nil {
		sl.ReportError(e.Score, "score", "Score", "required_for_quiz", "")
	}
}

// Validate checks structural invariants. Every failure matches both
// shared.ErrInvalidEvent and its finer validation kind.
func (e *LearningEvent) Validate() error {
	v := shared.CheckStruct(e)
	if v == nil {
		return nil
	}
	return shared.WrapError("ledger", "Validate", v.Kind, v.Message, shared.ErrInvalidEvent)
}

// Ledger is the append-only event log. Append runs inside the same unit of
// work as the state changes the event caused.
type Ledger interface {
	// Append records the event. An id that is already present yields
	// shared.ErrDuplicateEvent.
	Append(ctx context.Context, e LearningEvent) error
}

// Reader reads the ledger back.
type Reader interface {
	// ListByUser returns the user's events since the given time, oldest first.
	ListByUser(ctx context.Context, userID string, since time.Time) ([]LearningEvent, error)
}
