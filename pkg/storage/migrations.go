package storage

import (
	"database/sql"
	"fmt"
)

var sqliteMigrations = []string{
	// Migration 1: alert history and execution records
	`CREATE TABLE IF NOT EXISTS alerts (
		id                 TEXT PRIMARY KEY,
		account_id         TEXT NOT NULL,
		metric             TEXT NOT NULL,
		target_value       REAL NOT NULL DEFAULT 0.0,
		current_value      REAL NOT NULL DEFAULT 0.0,
		direction          TEXT NOT NULL,
		severity           TEXT NOT NULL CHECK(severity IN ('warning', 'critical')),
		message            TEXT NOT NULL DEFAULT '',
		status             TEXT NOT NULL CHECK(status IN ('active', 'resolved')),
		check_items        TEXT NOT NULL DEFAULT '[]',
		improvements       TEXT NOT NULL DEFAULT '{}',
		raised_at_ms       INTEGER NOT NULL,
		first_raised_at_ms INTEGER NOT NULL,
		resolved_at_ms     INTEGER,
		last_touched_ms    INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_alerts_account ON alerts(account_id);
	CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
	CREATE INDEX IF NOT EXISTS idx_alerts_last_touched ON alerts(last_touched_ms);

	CREATE TABLE IF NOT EXISTS execution_records (
		bucket_key      TEXT PRIMARY KEY,
		state           TEXT NOT NULL CHECK(state IN ('running', 'completed')),
		started_at_ms   INTEGER NOT NULL,
		completed_at_ms INTEGER NOT NULL DEFAULT 0
	);`,
	// Migration 2: execution record ownership
	`ALTER TABLE execution_records ADD COLUMN owner TEXT NOT NULL DEFAULT '';`,
}

var postgresMigrations = []string{
	// Migration 1: alert history and execution records
	`CREATE TABLE IF NOT EXISTS alerts (
		id                 TEXT PRIMARY KEY,
		account_id         TEXT NOT NULL,
		metric             TEXT NOT NULL,
		target_value       DOUBLE PRECISION NOT NULL DEFAULT 0,
		current_value      DOUBLE PRECISION NOT NULL DEFAULT 0,
		direction          TEXT NOT NULL,
		severity           TEXT NOT NULL CHECK(severity IN ('warning', 'critical')),
		message            TEXT NOT NULL DEFAULT '',
		status             TEXT NOT NULL CHECK(status IN ('active', 'resolved')),
		check_items        TEXT NOT NULL DEFAULT '[]',
		improvements       TEXT NOT NULL DEFAULT '{}',
		raised_at_ms       BIGINT NOT NULL,
		first_raised_at_ms BIGINT NOT NULL,
		resolved_at_ms     BIGINT,
		last_touched_ms    BIGINT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_alerts_account ON alerts(account_id);
	CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
	CREATE INDEX IF NOT EXISTS idx_alerts_last_touched ON alerts(last_touched_ms);

	CREATE TABLE IF NOT EXISTS execution_records (
		bucket_key      TEXT PRIMARY KEY,
		state           TEXT NOT NULL CHECK(state IN ('running', 'completed')),
		started_at_ms   BIGINT NOT NULL,
		completed_at_ms BIGINT NOT NULL DEFAULT 0
	);`,
	// Migration 2: execution record ownership
	`ALTER TABLE execution_records ADD COLUMN IF NOT EXISTS owner TEXT NOT NULL DEFAULT '';`,
}

// runMigrations applies pending schema migrations for the dialect.
func runMigrations(db *sql.DB, d dialect) error {
	// Ensure migration tracking table exists
	if _, err := db.Exec(d.migrationTable); err != nil {
		return fmt.Errorf("create migration table: %w", err)
	}

	var currentVersion int
	row := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("check migration version: %w", err)
	}

	for i := currentVersion; i < len(d.migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}

		if _, err := tx.Exec(d.migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("run migration %d: %w", i+1, err)
		}

		if _, err := tx.Exec(d.rebind("INSERT INTO schema_migrations (version) VALUES (?)"), i+1); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}

	return nil
}
