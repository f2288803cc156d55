package eventhandler

import (
	"github.com/microlearn/gamification-engine/internal/domain/shared"
	"github.com/microlearn/gamification-engine/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON PROGRESS EVENT HANDLER
// Subscribed to the in-process bus. Records the milestones callers surface as
// notifications (level ups, broken streaks) in the structured log.
// ═══════════════════════════════════════════════════════════════════════════

// ProgressEventLogger logs engine domain events.
type ProgressEventLogger struct {
	log *logger.Logger
}

// NewProgressEventLogger creates the handler.
func NewProgressEventLogger(log *logger.Logger) *ProgressEventLogger {
	if log == nil {
		log = logger.Nop()
	}
	return &ProgressEventLogger{log: log.With(logger.Component("progress_events"))}
}

// Register subscribes the handler to every event on the bus.
func (h *ProgressEventLogger) Register(bus shared.EventSubscriber) error {
	return bus.SubscribeAll(h.Handle)
}

// Handle implements shared.EventHandler.
func (h *ProgressEventLogger) Handle(event shared.Event) error {
	fields := []logger.Field{
		logger.UserID(event.AggregateID()),
		logger.String("event_type", string(event.EventType())),
	}

	switch e := event.(type) {
	case shared.LevelUpEvent:
		h.log.Info("level up", append(fields,
			logger.Int("old_level", e.OldLevel),
			logger.Int("new_level", e.NewLevel))...)
	case shared.StreakBrokenEvent:
		h.log.Info("streak broken", append(fields,
			logger.Int("previous_streak", e.PreviousStreak),
			logger.Int("days_missed", e.DaysMissed))...)
	case shared.XPGainedEvent:
		h.log.Debug("xp gained", append(fields,
			logger.XPAmount(e.Amount),
			logger.Int("xp", e.NewTotal))...)
	default:
		h.log.Debug("domain event", fields...)
	}
	return nil
}
