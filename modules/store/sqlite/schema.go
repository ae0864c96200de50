package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// migration is one schema step. Versions are applied in order and
// recorded in schema_version; a database is never downgraded.
type migration struct {
	version    int
	statements []string
}

var migrations = []migration{
	{
		version: 1,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS episode_logs (
				identity      TEXT PRIMARY KEY,
				display_name  TEXT    NOT NULL DEFAULT '',
				group_id      TEXT    NOT NULL DEFAULT '',
				status        TEXT    NOT NULL,
				attempt_count INTEGER NOT NULL DEFAULT 0,
				start_time    TEXT    NOT NULL,
				last_attempt  TEXT    NOT NULL,
				end_time      TEXT,
				duration_ms   INTEGER
			)`,
			`CREATE INDEX IF NOT EXISTS idx_episode_logs_group ON episode_logs(group_id, status)`,
			`CREATE INDEX IF NOT EXISTS idx_episode_logs_end ON episode_logs(end_time)`,

			`CREATE TABLE IF NOT EXISTS episode_tracking (
				id          TEXT PRIMARY KEY,
				identity    TEXT    NOT NULL,
				attempt     INTEGER NOT NULL,
				status      TEXT    NOT NULL,
				created_at  TEXT    NOT NULL,
				end_time    TEXT,
				duration_ms INTEGER
			)`,
			`CREATE INDEX IF NOT EXISTS idx_episode_tracking_identity ON episode_tracking(identity, status)`,

			`CREATE TABLE IF NOT EXISTS processing_steps (
				id           TEXT PRIMARY KEY,
				identity     TEXT NOT NULL,
				name         TEXT NOT NULL,
				status       TEXT NOT NULL,
				start_time   TEXT NOT NULL,
				end_time     TEXT,
				duration_ms  INTEGER,
				data         TEXT,
				next_step_id TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_processing_steps_identity ON processing_steps(identity, name, status)`,

			`CREATE TABLE IF NOT EXISTS processing_errors (
				id            TEXT PRIMARY KEY,
				identity      TEXT NOT NULL,
				step_id       TEXT NOT NULL,
				step_name     TEXT NOT NULL,
				error_type    TEXT NOT NULL,
				error_message TEXT NOT NULL DEFAULT '',
				stack_trace   TEXT NOT NULL DEFAULT '',
				resolution    TEXT NOT NULL,
				context       TEXT,
				created_at    TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_processing_errors_type ON processing_errors(error_type)`,
			`CREATE INDEX IF NOT EXISTS idx_processing_errors_identity ON processing_errors(identity, step_name)`,

			`CREATE TABLE IF NOT EXISTS processing_timings (
				identity    TEXT    NOT NULL,
				status      TEXT    NOT NULL,
				duration_ms INTEGER NOT NULL,
				recorded_at TEXT    NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_processing_timings_identity ON processing_timings(identity)`,
		},
	},
	{
		version: 2,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS group_registry (
				id          TEXT PRIMARY KEY,
				description TEXT NOT NULL DEFAULT '',
				creator     TEXT NOT NULL DEFAULT '',
				created_at  TEXT NOT NULL,
				updated_at  TEXT,
				metadata    TEXT
			)`,

			`CREATE TABLE IF NOT EXISTS pending_episodes (
				id         TEXT PRIMARY KEY,
				job        TEXT NOT NULL,
				suggestion TEXT NOT NULL,
				created_at TEXT NOT NULL,
				expires_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_pending_episodes_expires ON pending_episodes(expires_at)`,
		},
	},
	{
		version: 3,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS episodes (
				uuid       TEXT PRIMARY KEY,
				name       TEXT NOT NULL DEFAULT '',
				content    TEXT NOT NULL DEFAULT '',
				group_id   TEXT NOT NULL DEFAULT '',
				source     TEXT NOT NULL DEFAULT '',
				created_at TEXT NOT NULL,
				embedding  BLOB
			)`,
			`CREATE INDEX IF NOT EXISTS idx_episodes_group ON episodes(group_id, created_at)`,
		},
	},
}

// schemaVersion is the version a fully migrated database reports.
func schemaVersion() int {
	return migrations[len(migrations)-1].version
}

// migrate applies every migration newer than the recorded version, each
// in its own transaction.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("sqlite: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("sqlite: read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin migration %d: %w", m.version, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range m.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate to %d: %w\nstatement: %s", m.version, err, stmt)
		}
	}
	if _, err := tx.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", m.version); err != nil {
		return fmt.Errorf("sqlite: record schema version %d: %w", m.version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit migration %d: %w", m.version, err)
	}
	return nil
}
