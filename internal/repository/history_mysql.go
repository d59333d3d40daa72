package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

// MySQLHistory stores sync runs in MySQL.
type MySQLHistory struct {
	sqlHistory
}

// NewMySQLHistory connects to dsn and ensures the table exists.
func NewMySQLHistory(dsn string) (*MySQLHistory, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	// MySQL rejects multi-statement Exec without multiStatements=true.
	query := `
	CREATE TABLE IF NOT EXISTS sync_runs (
		id VARCHAR(64) PRIMARY KEY,
		kind VARCHAR(16) NOT NULL,
		trigger_name VARCHAR(16) NOT NULL,
		source VARCHAR(16) NOT NULL DEFAULT '',
		started_at_ms BIGINT NOT NULL,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		items_processed INT NOT NULL DEFAULT 0,
		items_updated INT NOT NULL DEFAULT 0,
		error_count INT NOT NULL DEFAULT 0,
		success TINYINT(1) NOT NULL DEFAULT 0,
		next_offset INT NULL,
		message TEXT NULL,
		INDEX idx_sync_runs_kind_started (kind, started_at_ms)
	)`
	if _, err := db.ExecContext(ctx, query); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &MySQLHistory{sqlHistory{db: db}}, nil
}

var _ HistoryRepository = (*MySQLHistory)(nil)
