package command

import (
	"context"
	"errors"
	"time"

	"github.com/microlearn/gamification-engine/internal/domain/gamestate"
	"github.com/microlearn/gamification-engine/internal/domain/leaderboard"
	"github.com/microlearn/gamification-engine/internal/domain/ledger"
	"github.com/microlearn/gamification-engine/internal/domain/progress"
	"github.com/microlearn/gamification-engine/internal/domain/shared"
	"github.com/microlearn/gamification-engine/internal/domain/uow"
	"github.com/microlearn/gamification-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// APPLY PROGRESS COMMAND
// Folds a progress report into the (user, lesson) record. The first time the
// record enters completed, the lesson XP is awarded and the day counts toward
// the streak, all in the same unit of work.
// ══════════════════════════════════════════════════════════════════════════════

// ApplyProgressCommand contains one progress report.
type ApplyProgressCommand struct {
	UserID   string `validate:"notblank"`
	LessonID string `validate:"notblank"`

	// ProgressPercent must be within [0, 100].
	ProgressPercent int

	// TimeSpentDelta is added to the record's time spent (seconds, >= 0).
	TimeSpentDelta int

	// Status overrides the derived status when non-empty.
	Status string

	Score   *int
	Mastery *int

	// OccurredAt defaults to now. Its calendar day is the streak day.
	OccurredAt time.Time

	// Event, when set, is appended to the ledger in the same unit of work so a
	// redelivered event is rejected as already processed.
	Event *ledger.LearningEvent `validate:"-"`

	CorrelationID string
}

// Validate checks identifiers and builds the progress update.
func (c ApplyProgressCommand) Validate() (progress.Update, error) {
	if v := shared.CheckStruct(c); v != nil {
		return progress.Update{}, shared.WrapError("progress", "ApplyProgress", v.Kind, v.Message, v)
	}

	u := progress.Update{
		ProgressPercent: shared.Percent(c.ProgressPercent),
		TimeSpentDelta:  c.TimeSpentDelta,
	}
	if c.Status != "" {
		st, err := progress.ParseStatus(c.Status)
		if err != nil {
			return progress.Update{}, err
		}
		u.Status = &st
	}
	if c.Score != nil {
		s := shared.Percent(*c.Score)
		u.Score = &s
	}
	if c.Mastery != nil {
		m := shared.Percent(*c.Mastery)
		u.Mastery = &m
	}
	return u, u.Validate()
}

// ApplyProgressResult reports the new record and every gamification delta the
// caller may want to show.
type ApplyProgressResult struct {
	Record         *progress.Record
	PreviousStatus progress.Status

	// NewlyCompleted is true only on the first transition into completed.
	NewlyCompleted bool

	XPAwarded int
	OldXP     int
	NewXP     int
	OldLevel  int
	NewLevel  int
	LeveledUp bool

	Streak         gamestate.Streak
	StreakChange   gamestate.StreakChange
	PreviousStreak int

	Events []shared.Event
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// ApplyProgressHandler handles ApplyProgressCommand.
type ApplyProgressHandler struct {
	deps Dependencies
}

// NewApplyProgressHandler creates a new ApplyProgressHandler.
func NewApplyProgressHandler(deps Dependencies) *ApplyProgressHandler {
	return &ApplyProgressHandler{deps: deps.withDefaults()}
}

// Handle executes the command. Validation happens before any lookup or write.
func (h *ApplyProgressHandler) Handle(ctx context.Context, cmd ApplyProgressCommand) (*ApplyProgressResult, error) {
	update, err := cmd.Validate()
	if err != nil {
		return nil, err
	}

	if err := h.deps.ensureUser(ctx, cmd.UserID); err != nil {
		return nil, err
	}
	lesson, err := h.deps.Catalog.Lesson(ctx, cmd.LessonID)
	if err != nil {
		return nil, err
	}

	at := cmd.OccurredAt
	if at.IsZero() {
		at = h.deps.Calendar.Now()
	}
	day := h.deps.Calendar.Date(at)

	var result *ApplyProgressResult
	err = h.deps.runWrite(ctx, cmd.UserID, func(ctx context.Context, repos uow.Repositories) error {
		// Each attempt starts from scratch: a retried unit of work must not
		// see the result of a rolled back one.
		result = &ApplyProgressResult{}
		return h.apply(ctx, repos, cmd, lesson.Topic, update, at, day, result)
	})
	if err != nil {
		return nil, err
	}

	h.afterCommit(ctx, cmd, lesson.Topic, result)
	return result, nil
}

func (h *ApplyProgressHandler) apply(
	ctx context.Context,
	repos uow.Repositories,
	cmd ApplyProgressCommand,
	topic string,
	update progress.Update,
	at, day time.Time,
	result *ApplyProgressResult,
) error {
	if cmd.Event != nil {
		if err := repos.Ledger.Append(ctx, *cmd.Event); err != nil {
			return err
		}
	}

	existing, err := repos.Progress.Get(ctx, cmd.UserID, cmd.LessonID)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return err
	}

	tr, err := progress.Apply(existing, cmd.UserID, cmd.LessonID, topic, update, at)
	if err != nil {
		return err
	}
	if err := repos.Progress.Save(ctx, tr.Record); err != nil {
		return err
	}

	gs, created, err := gamestate.LoadOrNew(ctx, repos.GameState, cmd.UserID, at)
	if err != nil {
		return err
	}

	result.Record = tr.Record
	result.PreviousStatus = tr.Previous
	result.NewlyCompleted = tr.NewlyCompleted
	result.OldXP, result.NewXP = gs.XP.Int(), gs.XP.Int()
	result.OldLevel, result.NewLevel = gs.Level(), gs.Level()
	result.PreviousStreak = gs.Streak.Current
	result.StreakChange = gamestate.StreakUnchanged

	if tr.NewlyCompleted {
		out := h.deps.Calculator.OnLessonCompleted(gs, day, at)
		result.XPAwarded = out.Award.Amount
		result.NewXP = out.Award.NewXP
		result.NewLevel = out.Award.NewLevel
		result.LeveledUp = out.Award.LeveledUp()
		result.StreakChange = out.Streak.Change

		result.Events = append(result.Events, shared.NewLessonCompletedEvent(cmd.UserID, cmd.LessonID, topic, at))
		result.Events = append(result.Events, out.Events(gs, "lesson_completed", at)...)
	}
	result.Streak = gs.Streak

	if created || tr.NewlyCompleted {
		if err := repos.GameState.Save(ctx, gs); err != nil {
			return err
		}
	}
	return nil
}

func (h *ApplyProgressHandler) afterCommit(ctx context.Context, cmd ApplyProgressCommand, topic string, result *ApplyProgressResult) {
	if cmd.CorrelationID != "" {
		for i, e := range result.Events {
			result.Events[i] = withCorrelation(e, cmd.CorrelationID)
		}
	}

	log := h.deps.Logger.With(logger.UserID(cmd.UserID), logger.LessonID(cmd.LessonID))
	if result.NewlyCompleted {
		h.deps.Metrics.XPAwarded(result.XPAwarded)
		if result.LeveledUp {
			h.deps.Metrics.LevelUp()
		}
		log.Info("lesson completed",
			logger.Topic(topic),
			logger.XPAmount(result.XPAwarded),
			logger.Int("xp", result.NewXP),
			logger.Int("level", result.NewLevel),
			logger.Int("streak", result.Streak.Current),
		)
	} else {
		log.Debug("progress applied",
			logger.Int("progress", int(result.Record.ProgressPercent)),
			logger.String("status", string(result.Record.Status)),
		)
	}

	// Boards count completed records and average their mastery, so any change
	// touching a completed record may move a displayed row.
	if result.Record.IsCompleted() || result.PreviousStatus == progress.StatusCompleted {
		boards := []leaderboard.Board{leaderboard.Global()}
		if topic != "" {
			boards = append(boards, leaderboard.ForTopic(topic))
		}
		h.deps.invalidate(ctx, boards...)
	}

	h.deps.publish(result.Events)
}
