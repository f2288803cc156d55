package command

import (
	"context"
	"time"

	"github.com/microlearn/gamification-engine/internal/domain/gamestate"
	"github.com/microlearn/gamification-engine/internal/domain/leaderboard"
	"github.com/microlearn/gamification-engine/internal/domain/ledger"
	"github.com/microlearn/gamification-engine/internal/domain/shared"
	"github.com/microlearn/gamification-engine/internal/domain/uow"
	"github.com/microlearn/gamification-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD CHECKIN COMMAND
// Counts a day of activity toward the streak without touching XP.
// ══════════════════════════════════════════════════════════════════════════════

// RecordCheckinCommand contains one daily check-in.
type RecordCheckinCommand struct {
	UserID string `validate:"notblank"`

	// ActivityAt defaults to now. Only its calendar day matters.
	ActivityAt time.Time

	// Event is appended to the ledger in the same unit of work when set.
	Event *ledger.LearningEvent `validate:"-"`

	CorrelationID string
}

// Validate validates the command.
func (c RecordCheckinCommand) Validate() error {
	if v := shared.CheckStruct(c); v != nil {
		return shared.WrapError("gamestate", "RecordCheckin", v.Kind, v.Message, v)
	}
	return nil
}

// RecordCheckinResult contains the state after the check-in.
type RecordCheckinResult struct {
	State          *gamestate.GameState
	StreakChange   gamestate.StreakChange
	PreviousStreak int
	Events         []shared.Event
}

// RecordCheckinHandler handles RecordCheckinCommand.
type RecordCheckinHandler struct {
	deps Dependencies
}

// NewRecordCheckinHandler creates a new RecordCheckinHandler.
func NewRecordCheckinHandler(deps Dependencies) *RecordCheckinHandler {
	return &RecordCheckinHandler{deps: deps.withDefaults()}
}

// Handle executes the command.
func (h *RecordCheckinHandler) Handle(ctx context.Context, cmd RecordCheckinCommand) (*RecordCheckinResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	if err := h.deps.ensureUser(ctx, cmd.UserID); err != nil {
		return nil, err
	}

	at := cmd.ActivityAt
	if at.IsZero() {
		at = h.deps.Calendar.Now()
	}
	day := h.deps.Calendar.Date(at)

	var result *RecordCheckinResult
	err := h.deps.runWrite(ctx, cmd.UserID, func(ctx context.Context, repos uow.Repositories) error {
		if cmd.Event != nil {
			if err := repos.Ledger.Append(ctx, *cmd.Event); err != nil {
				return err
			}
		}

		gs, created, err := gamestate.LoadOrNew(ctx, repos.GameState, cmd.UserID, at)
		if err != nil {
			return err
		}
		out := h.deps.Calculator.OnCheckin(gs, day, at)

		result = &RecordCheckinResult{
			State:          gs.Clone(),
			StreakChange:   out.Streak.Change,
			PreviousStreak: out.Streak.Previous,
			Events:         out.Events(gs, "checkin", at),
		}
		if created || out.Changed() {
			return repos.GameState.Save(ctx, gs)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if cmd.CorrelationID != "" {
		for i, e := range result.Events {
			result.Events[i] = withCorrelation(e, cmd.CorrelationID)
		}
	}

	h.deps.Logger.Debug("checkin recorded",
		logger.UserID(cmd.UserID),
		logger.String("streak_change", string(result.StreakChange)),
		logger.Int("streak", result.State.Streak.Current),
	)

	if result.StreakChange != gamestate.StreakUnchanged && result.StreakChange != gamestate.StreakIgnored {
		// streak is shown on every board row; topic boards are left to expire
		h.deps.invalidate(ctx, leaderboard.Global())
	}
	h.deps.publish(result.Events)
	return result, nil
}
