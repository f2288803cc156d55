package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
)

// Migration is one schema step.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
	DownSQL string
}

// migrationLockKey serializes migrators of concurrently starting workers.
const migrationLockKey = 7_310_552

// Migrator applies GetMigrations to a database and records each step in
// schema_migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
}

// NewMigrator creates a migrator for the engine schema.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn, migrations: GetMigrations()}
}

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    INTEGER PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Migrate applies every pending migration in version order. All steps run in
// one transaction holding an advisory lock, so two workers starting together
// cannot apply the same step twice and a failed step leaves no partial schema.
func (m *Migrator) Migrate(ctx context.Context) error {
	err := m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, createMigrationsTable); err != nil {
			return fmt.Errorf("create schema_migrations: %w", err)
		}

		applied, err := appliedVersions(ctx, tx)
		if err != nil {
			return err
		}
		for _, mig := range pending(m.migrations, applied) {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("version %d (%s): %w", mig.Version, mig.Name, err)
			}
			if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, mig.Version, mig.Name); err != nil {
				return fmt.Errorf("record version %d: %w", mig.Version, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMigrationFailed, err)
	}
	return nil
}

// Rollback reverts the newest applied migration. It is a no-op on an empty
// schema.
func (m *Migrator) Rollback(ctx context.Context) error {
	err := m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, createMigrationsTable); err != nil {
			return err
		}

		var version int
		err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version)
		if err != nil || version == 0 {
			return err
		}

		for _, mig := range m.migrations {
			if mig.Version != version {
				continue
			}
			if _, err := tx.Exec(ctx, mig.DownSQL); err != nil {
				return fmt.Errorf("revert version %d: %w", version, err)
			}
			_, err := tx.Exec(ctx, `DELETE FROM schema_migrations WHERE version = $1`, version)
			return err
		}
		return fmt.Errorf("version %d is applied but unknown to this build", version)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMigrationFailed, err)
	}
	return nil
}

func appliedVersions(ctx context.Context, q Querier) (map[int]time.Time, error) {
	rows, err := q.Query(ctx, `SELECT version, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var (
			version int
			at      time.Time
		)
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		applied[version] = at
	}
	return applied, rows.Err()
}

// pending returns the migrations not yet applied, in version order.
func pending(all []Migration, applied map[int]time.Time) []Migration {
	out := make([]Migration, 0, len(all))
	for _, mig := range all {
		if _, ok := applied[mig.Version]; !ok {
			out = append(out, mig)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}
