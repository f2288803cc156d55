// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"time"

	"github.com/microlearn/gamification-engine/internal/domain/content"
	"github.com/microlearn/gamification-engine/internal/domain/gamestate"
	"github.com/microlearn/gamification-engine/internal/domain/leaderboard"
	"github.com/microlearn/gamification-engine/internal/domain/shared"
	"github.com/microlearn/gamification-engine/internal/domain/uow"
	"github.com/microlearn/gamification-engine/internal/infrastructure/metrics"
	"github.com/microlearn/gamification-engine/pkg/logger"
	"github.com/microlearn/gamification-engine/pkg/retry"
	"github.com/microlearn/gamification-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// SHARED DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Dependencies are the collaborators every write handler needs.
// UnitOfWork and Catalog are required; the rest have working defaults.
type Dependencies struct {
	UnitOfWork uow.UnitOfWork
	Catalog    content.Catalog

	// Publisher receives domain events after commit.
	Publisher shared.EventPublisher

	// Snapshots are invalidated after a commit that changes a board.
	Snapshots leaderboard.SnapshotCache

	// Retrier re-runs a unit of work that lost a race. It must retry
	// shared.IsConflict; see ConflictRetrier.
	Retrier *retry.Retrier

	Calculator *gamestate.Calculator
	Calendar   *timeutil.Calendar
	Logger     *logger.Logger
	Metrics    *metrics.Metrics
}

// ConflictRetrier retries units of work that failed with
// shared.ErrConcurrentModification.
func ConflictRetrier(log *logger.Logger, m *metrics.Metrics, opts ...retry.Option) *retry.Retrier {
	if log == nil {
		log = logger.Nop()
	}
	base := []retry.Option{
		retry.WithRetryIf(shared.IsConflict),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			m.ConflictRetry()
			log.Warn("write conflict, retrying",
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
				logger.Err(err),
			)
		}),
	}
	return retry.DatabaseRetrier(append(base, opts...)...)
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Calculator == nil {
		d.Calculator = gamestate.NewCalculator(gamestate.DefaultLessonXP)
	}
	if d.Calendar == nil {
		d.Calendar = timeutil.UTC()
	}
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	if d.Retrier == nil {
		d.Retrier = ConflictRetrier(d.Logger, d.Metrics)
	}
	return d
}

// runWrite executes fn in the user's unit of work, retrying lost races.
func (d Dependencies) runWrite(ctx context.Context, userID string, fn func(ctx context.Context, repos uow.Repositories) error) error {
	return d.Retrier.Do(ctx, func(ctx context.Context) error {
		return d.UnitOfWork.Do(ctx, userID, fn)
	})
}

// ensureUser maps an unknown or inactive user to not-found.
func (d Dependencies) ensureUser(ctx context.Context, userID string) error {
	ok, err := d.Catalog.UserExists(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return shared.ErrUserNotFound
	}
	return nil
}

// publish sends events after commit. Delivery failures are logged only: the
// state change is already durable.
func (d Dependencies) publish(events []shared.Event) {
	if d.Publisher == nil {
		return
	}
	for _, e := range events {
		if err := d.Publisher.Publish(e); err != nil {
			d.Logger.Warn("failed to publish domain event",
				logger.String("event_type", string(e.EventType())),
				logger.UserID(e.AggregateID()),
				logger.Err(err),
			)
		}
	}
}

// invalidate drops cached listings of boards the commit changed.
func (d Dependencies) invalidate(ctx context.Context, boards ...leaderboard.Board) {
	if d.Snapshots == nil || len(boards) == 0 {
		return
	}
	if err := d.Snapshots.Invalidate(ctx, boards...); err != nil {
		d.Logger.Warn("failed to invalidate leaderboard snapshots", logger.Err(err))
	}
}

// withCorrelation stamps a correlation id on the engine's event types.
func withCorrelation(e shared.Event, id string) shared.Event {
	switch ev := e.(type) {
	case shared.LessonCompletedEvent:
		ev.BaseEvent = ev.BaseEvent.WithCorrelationID(id)
		return ev
	case shared.XPGainedEvent:
		ev.BaseEvent = ev.BaseEvent.WithCorrelationID(id)
		return ev
	case shared.LevelUpEvent:
		ev.BaseEvent = ev.BaseEvent.WithCorrelationID(id)
		return ev
	case shared.StreakUpdatedEvent:
		ev.BaseEvent = ev.BaseEvent.WithCorrelationID(id)
		return ev
	case shared.StreakBrokenEvent:
		ev.BaseEvent = ev.BaseEvent.WithCorrelationID(id)
		return ev
	default:
		return e
	}
}
