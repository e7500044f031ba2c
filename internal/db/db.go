// Package db opens the fountaind SQLite database and owns its schema.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

// initSchema creates all required tables
func initSchema(db *sql.DB) error {
	// Show ledger - append-only history of runs, warnings and schedule firings.
	// A run writes several rows (started, warnings, finished) sharing run_id.
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS show_ledger (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			run_id TEXT,
			song TEXT,
			playlist TEXT,
			payload TEXT,
			source TEXT,
			idempotency_key TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_show_ledger_type_ts ON show_ledger(event_type, timestamp);
		CREATE INDEX IF NOT EXISTS idx_show_ledger_run ON show_ledger(run_id);
		CREATE INDEX IF NOT EXISTS idx_show_ledger_source ON show_ledger(source, event_type, timestamp);
	`)
	if err != nil {
		return fmt.Errorf("failed to create show_ledger table: %w", err)
	}

	// One schedule_fired row per occurrence; "first writer wins".
	_, err = db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_show_ledger_occurrence
		ON show_ledger(idempotency_key)
		WHERE idempotency_key IS NOT NULL AND idempotency_key != '' AND event_type = 'schedule_fired';
	`)
	if err != nil {
		return fmt.Errorf("failed to create idx_show_ledger_occurrence index: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
