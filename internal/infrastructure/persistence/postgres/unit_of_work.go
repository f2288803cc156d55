package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/microlearn/gamification-engine/internal/domain/uow"
)

// UnitOfWork implements uow.UnitOfWork. Each Do runs in one transaction that
// first takes a transaction-scoped advisory lock keyed by the user id, so
// writers for the same user queue up while other users proceed in parallel.
type UnitOfWork struct {
	conn *Connection
	opts TxOptions
}

// NewUnitOfWork creates a unit of work on conn.
func NewUnitOfWork(conn *Connection) *UnitOfWork {
	return &UnitOfWork{conn: conn, opts: DefaultTxOptions()}
}

// Do implements uow.UnitOfWork.
func (u *UnitOfWork) Do(ctx context.Context, userID string, fn func(ctx context.Context, repos uow.Repositories) error) error {
	err := u.conn.WithTx(ctx, u.opts, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID); err != nil {
			return err
		}
		return fn(ctx, Repositories(tx))
	})
	return mapError("uow", "Do", err)
}

// Repositories returns the transactional repositories bound to q.
func Repositories(q Querier) uow.Repositories {
	return uow.Repositories{
		Progress:  NewProgressRepository(q),
		GameState: NewGameStateRepository(q),
		Ledger:    NewLedgerRepository(q),
	}
}
