package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/microlearn/gamification-engine/internal/domain/shared"
)

// SQLSTATE codes the store reacts to.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

// IsUniqueViolation checks if the error is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	return hasCode(err, codeUniqueViolation)
}

// IsNoRows checks if the error is a "no rows" error.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isConflict reports errors that mean another writer won a race. A unique
// violation outside the ledger means two first inserts collided.
func isConflict(err error) bool {
	return hasCode(err, codeUniqueViolation) ||
		hasCode(err, codeSerializationFailure) ||
		hasCode(err, codeDeadlockDetected) ||
		hasCode(err, codeLockNotAvailable)
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

// mapError translates driver errors into the domain taxonomy. Errors that
// already carry a domain kind pass through untouched.
func mapError(domain, op string, err error) error {
	if err == nil {
		return nil
	}
	var de *shared.DomainError
	if errors.As(err, &de) {
		return err
	}
	switch {
	case isConflict(err):
		return shared.WrapError(domain, op, shared.ErrConcurrentModification, "concurrent write detected", err)
	case pgconn.Timeout(err):
		return shared.WrapError(domain, op, shared.ErrTimeout, "database timeout", err)
	case pgconn.SafeToRetry(err), errors.Is(err, ErrConnectionClosed):
		return shared.WrapError(domain, op, shared.ErrServiceUnavailable, "database unavailable", err)
	}
	return fmt.Errorf("%s.%s: %w", domain, op, err)
}
