// Package sqlite persists reduction trackers in SQLite.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps a SQLite database connection
type DB struct {
	*sql.DB
}

// New creates a new SQLite database connection
func New(dataSourceName string) (*DB, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: SQLite has a single writer and ":memory:" databases are
	// per connection.
	db.SetMaxOpenConns(1)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &DB{db}, nil
}

// Open connects to path and applies the schema.
func Open(path string) (*DB, error) {
	db, err := New(path)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// RunMigrations creates the schema if it does not exist yet.
func (db *DB) RunMigrations() error {
	migration := `
-- Reduction trackers, one per (run, slice key)
CREATE TABLE IF NOT EXISTS trackers (
    id TEXT PRIMARY KEY,
    run_number INTEGER NOT NULL,
    slice_key TEXT NOT NULL DEFAULT '',
    state TEXT NOT NULL CHECK(state IN ('raw', 'chopped', 'focused', 'normalized', 'written')),
    is_reduced INTEGER NOT NULL DEFAULT 0,
    message TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    modified_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    version INTEGER NOT NULL,
    UNIQUE (run_number, slice_key)
);
CREATE INDEX IF NOT EXISTS idx_tracker_run ON trackers(run_number);

-- Produced artifacts per tracker
CREATE TABLE IF NOT EXISTS tracker_artifacts (
    tracker_id TEXT NOT NULL,
    target TEXT NOT NULL,
    path TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (tracker_id, target),
    FOREIGN KEY (tracker_id) REFERENCES trackers(id)
);

-- Append-only transition history
CREATE TABLE IF NOT EXISTS tracker_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    tracker_id TEXT NOT NULL,
    from_state TEXT NOT NULL,
    to_state TEXT NOT NULL,
    message TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (tracker_id) REFERENCES trackers(id)
);
CREATE INDEX IF NOT EXISTS idx_history_tracker ON tracker_history(tracker_id);
`

	_, err := db.Exec(migration)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
