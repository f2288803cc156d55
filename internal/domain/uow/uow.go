// Package uow defines the per-user unit of work. Every write the engine makes
// for one learning event runs inside a single Do call, which holds the user's
// single-writer lock and commits all repositories atomically.
package uow

import (
	"context"

	"github.com/microlearn/gamification-engine/internal/domain/gamestate"
	"github.com/microlearn/gamification-engine/internal/domain/ledger"
	"github.com/microlearn/gamification-engine/internal/domain/progress"
)

// Repositories are the transactional views handed to the callback.
type Repositories struct {
	Progress  progress.Repository
	GameState gamestate.Repository
	Ledger    ledger.Ledger
}

// UnitOfWork serializes writers per user.
type UnitOfWork interface {
	// Do runs fn while holding userID's write lock. If fn returns nil every
	// write is committed together; otherwise none is. Implementations return
	// shared.ErrConcurrentModification when the store detects a lost race.
	Do(ctx context.Context, userID string, fn func(ctx context.Context, repos Repositories) error) error
}
