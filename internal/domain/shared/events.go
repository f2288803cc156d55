package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. They are published after the per-user transaction that
// produced them commits, never before.
const (
	EventLessonCompleted EventType = "progress.lesson_completed"
	EventXPGained        EventType = "progress.xp_gained"
	EventLevelUp         EventType = "progress.level_up"
	EventStreakUpdated   EventType = "progress.streak_updated"
	EventStreakBroken    EventType = "progress.streak_broken"
)

// Event is the base interface for all domain events.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time

	// AggregateID is the user the event belongs to.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing. The engine uses the
// learning event id.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// LessonCompletedEvent is emitted on the first transition of a lesson into completed.
type LessonCompletedEvent struct {
	BaseEvent
	LessonID string `json:"lesson_id"`
	Topic    string `json:"topic"`
}

// Payload implements Event interface.
func (e LessonCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"lesson_id": e.LessonID,
		"topic":     e.Topic,
	}
}

// NewLessonCompletedEvent creates a new LessonCompletedEvent.
func NewLessonCompletedEvent(userID, lessonID, topic string, at time.Time) LessonCompletedEvent {
	return LessonCompletedEvent{
		BaseEvent: NewBaseEvent(EventLessonCompleted, userID, at),
		LessonID:  lessonID,
		Topic:     topic,
	}
}

// XPGainedEvent is emitted when XP is awarded.
type XPGainedEvent struct {
	BaseEvent
	Amount   int    `json:"amount"`
	NewTotal int    `json:"new_total"`
	Source   string `json:"source"`
}

// Payload implements Event interface.
func (e XPGainedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"amount":    e.Amount,
		"new_total": e.NewTotal,
		"source":    e.Source,
	}
}

// NewXPGainedEvent creates a new XPGainedEvent.
func NewXPGainedEvent(userID string, amount, newTotal int, source string, at time.Time) XPGainedEvent {
	return XPGainedEvent{
		BaseEvent: NewBaseEvent(EventXPGained, userID, at),
		Amount:    amount,
		NewTotal:  newTotal,
		Source:    source,
	}
}

// LevelUpEvent is emitted when the derived level increases.
type LevelUpEvent struct {
	BaseEvent
	OldLevel int `json:"old_level"`
	NewLevel int `json:"new_level"`
}

// Payload implements Event interface.
func (e LevelUpEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"old_level": e.OldLevel,
		"new_level": e.NewLevel,
	}
}

// NewLevelUpEvent creates a new LevelUpEvent.
func NewLevelUpEvent(userID string, oldLevel, newLevel int, at time.Time) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent: NewBaseEvent(EventLevelUp, userID, at),
		OldLevel:  oldLevel,
		NewLevel:  newLevel,
	}
}

// StreakUpdatedEvent is emitted when the current streak grows or starts.
type StreakUpdatedEvent struct {
	BaseEvent
	Current int `json:"current"`
	Longest int `json:"longest"`
}

// Payload implements Event interface.
func (e StreakUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"current": e.Current,
		"longest": e.Longest,
	}
}

// NewStreakUpdatedEvent creates a new StreakUpdatedEvent.
func NewStreakUpdatedEvent(userID string, current, longest int, at time.Time) StreakUpdatedEvent {
	return StreakUpdatedEvent{
		BaseEvent: NewBaseEvent(EventStreakUpdated, userID, at),
		Current:   current,
		Longest:   longest,
	}
}

// StreakBrokenEvent is emitted when a gap of two or more days resets the streak.
type StreakBrokenEvent struct {
	BaseEvent
	PreviousStreak int `json:"previous_streak"`
	DaysMissed     int `json:"days_missed"`
}

// Payload implements Event interface.
func (e StreakBrokenEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"previous_streak": e.PreviousStreak,
		"days_missed":     e.DaysMissed,
	}
}

// NewStreakBrokenEvent creates a new StreakBrokenEvent.
func NewStreakBrokenEvent(userID string, previousStreak, daysMissed int, at time.Time) StreakBrokenEvent {
	return StreakBrokenEvent{
		BaseEvent:      NewBaseEvent(EventStreakBroken, userID, at),
		PreviousStreak: previousStreak,
		DaysMissed:     daysMissed,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Bus contracts
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
