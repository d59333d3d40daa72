package repository

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver - no CGO required
)

// SQLiteHistory stores sync runs in a local SQLite file.
type SQLiteHistory struct {
	sqlHistory
}

// NewSQLiteHistory opens (or creates) the history database at dbPath.
func NewSQLiteHistory(dbPath string) (*SQLiteHistory, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	// SQLite only supports 1 writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := createSQLiteHistoryTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &SQLiteHistory{sqlHistory{db: db, mu: &sync.RWMutex{}}}, nil
}

func createSQLiteHistoryTables(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS sync_runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		trigger_name TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		started_at_ms INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		items_processed INTEGER NOT NULL DEFAULT 0,
		items_updated INTEGER NOT NULL DEFAULT 0,
		error_count INTEGER NOT NULL DEFAULT 0,
		success BOOLEAN NOT NULL DEFAULT 0,
		next_offset INTEGER,
		message TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_sync_runs_kind_started ON sync_runs(kind, started_at_ms);
	`
	_, err := db.Exec(query)
	return err
}

var _ HistoryRepository = (*SQLiteHistory)(nil)
