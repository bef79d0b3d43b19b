package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// migration is a schema step applied once, in version order, on top of
// schema.sql.
type migration struct {
	version int
	name    string
	up      string
}

var migrations = []migration{
	{1, "initial_schema", ``},
	{2, "approval_audit", `
		CREATE TABLE IF NOT EXISTS approval_audit (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL DEFAULT '',
			job_key TEXT NOT NULL DEFAULT '',
			tool TEXT NOT NULL DEFAULT '',
			operation TEXT NOT NULL,
			target TEXT NOT NULL DEFAULT '',
			mode TEXT NOT NULL,
			decision TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			approved BOOLEAN NOT NULL DEFAULT FALSE,
			decided_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_approval_audit_run ON approval_audit(run_id);`},
	{3, "runs_started_index", `CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC)`},
}

// AppliedMigration is one row of the migration history.
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
}

func migrate(ctx context.Context, db *sql.DB) error {
	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

func apply(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if m.up != "" {
		if _, err := tx.ExecContext(ctx, m.up); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, m.version, m.name); err != nil {
		return err
	}
	return tx.Commit()
}

func schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// SchemaVersion is the highest applied migration.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, ErrStoreClosed
	}
	return schemaVersion(ctx, s.db)
}

// Migrations lists applied migrations in version order.
func (s *Store) Migrations(ctx context.Context) ([]AppliedMigration, error) {
	if s.db == nil {
		return nil, ErrStoreClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT version, name, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AppliedMigration
	for rows.Next() {
		var (
			m       AppliedMigration
			applied string
		)
		if err := rows.Scan(&m.Version, &m.Name, &applied); err != nil {
			return nil, err
		}
		m.AppliedAt, _ = time.Parse(time.RFC3339Nano, applied)
		out = append(out, m)
	}
	return out, rows.Err()
}
