// Package eventhandler contains handlers for learning events arriving from the
// content layer and for domain events emitted by the engine.
package eventhandler

import (
	"context"
	"time"

	"github.com/microlearn/gamification-engine/internal/application/command"
	"github.com/microlearn/gamification-engine/internal/domain/ledger"
	"github.com/microlearn/gamification-engine/internal/domain/shared"
	"github.com/microlearn/gamification-engine/internal/infrastructure/metrics"
	"github.com/microlearn/gamification-engine/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON LEARNING EVENT HANDLER
// Maps a raw learning event to the matching command:
//   lesson_completed -> ApplyProgress at 100%
//   quiz_scored      -> ApplyProgress with score and mastery
//   checkin          -> RecordCheckin
//
// The event is appended to the ledger inside the command's unit of work, so a
// redelivered event is detected and acknowledged without side effects.
// ═══════════════════════════════════════════════════════════════════════════

// Outcome labels how an event was settled.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
)

// ProgressApplier is the ApplyProgress command.
type ProgressApplier interface {
	Handle(ctx context.Context, cmd command.ApplyProgressCommand) (*command.ApplyProgressResult, error)
}

// CheckinRecorder is the RecordCheckin command.
type CheckinRecorder interface {
	Handle(ctx context.Context, cmd command.RecordCheckinCommand) (*command.RecordCheckinResult, error)
}

// LearningEventHandler applies learning events.
type LearningEventHandler struct {
	progress ProgressApplier
	checkin  CheckinRecorder
	log      *logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewLearningEventHandler creates the handler.
func NewLearningEventHandler(progress ProgressApplier, checkin CheckinRecorder, log *logger.Logger, m *metrics.Metrics) *LearningEventHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &LearningEventHandler{
		progress: progress,
		checkin:  checkin,
		log:      log.With(logger.Component("learning_event_handler")),
		metrics:  m,
		now:      time.Now,
	}
}

// Handle applies one event. It returns nil when the event is settled for
// good (applied, already processed, or permanently invalid) and an error when
// the event should be delivered again.
func (h *LearningEventHandler) Handle(ctx context.Context, evt ledger.LearningEvent) error {
	outcome, err := h.Apply(ctx, evt)
	h.metrics.EventApplied(string(evt.Kind), string(outcome))
	if outcome == OutcomeFailed {
		return err
	}
	return nil
}

// Apply applies one event and reports how it was settled. err is non-nil for
// every outcome except applied and duplicate.
func (h *LearningEventHandler) Apply(ctx context.Context, evt ledger.LearningEvent) (Outcome, error) {
	evt.Normalize(h.now())
	log := h.log.With(logger.EventID(evt.ID), logger.UserID(evt.UserID), logger.String("kind", string(evt.Kind)))

	if err := evt.Validate(); err != nil {
		log.Warn("rejecting malformed learning event", logger.Err(err))
		return OutcomeRejected, err
	}

	err := h.dispatch(ctx, evt)
	switch {
	case err == nil:
		log.Debug("learning event applied")
		return OutcomeApplied, nil
	case shared.IsAlreadyProcessed(err):
		log.Info("learning event already processed")
		return OutcomeDuplicate, nil
	case shared.IsValidation(err), shared.IsNotFound(err):
		// Retrying cannot fix the input or make the reference appear.
		log.Warn("rejecting learning event", logger.Err(err))
		return OutcomeRejected, err
	default:
		log.Error("failed to apply learning event", logger.Err(err))
		return OutcomeFailed, err
	}
}

func (h *LearningEventHandler) dispatch(ctx context.Context, evt ledger.LearningEvent) error {
	switch evt.Kind {
	case ledger.KindLessonCompleted:
		_, err := h.progress.Handle(ctx, command.ApplyProgressCommand{
			UserID:          evt.UserID,
			LessonID:        evt.SubjectID,
			ProgressPercent: 100,
			TimeSpentDelta:  evt.TimeSpentSeconds,
			Mastery:         evt.Mastery,
			OccurredAt:      evt.Timestamp,
			Event:           &evt,
			CorrelationID:   evt.ID,
		})
		return err

	case ledger.KindQuizScored:
		percent := 0
		if evt.ProgressPercent != nil {
			percent = *evt.ProgressPercent
		}
		mastery := evt.Mastery
		if mastery == nil {
			mastery = evt.Score
		}
		_, err := h.progress.Handle(ctx, command.ApplyProgressCommand{
			UserID:          evt.UserID,
			LessonID:        evt.SubjectID,
			ProgressPercent: percent,
			TimeSpentDelta:  evt.TimeSpentSeconds,
			Score:           evt.Score,
			Mastery:         mastery,
			OccurredAt:      evt.Timestamp,
			Event:           &evt,
			CorrelationID:   evt.ID,
		})
		return err

	case ledger.KindCheckin:
		_, err := h.checkin.Handle(ctx, command.RecordCheckinCommand{
			UserID:        evt.UserID,
			ActivityAt:    evt.Timestamp,
			Event:         &evt,
			CorrelationID: evt.ID,
		})
		return err
	}
	return shared.ErrInvalidEvent
}
