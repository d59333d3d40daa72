package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Qmop1967/Clients-Console-sub001/internal/model"
)

const historyColumns = `id, kind, trigger_name, source, started_at_ms, duration_ms,
	items_processed, items_updated, error_count, success, next_offset, message`

// sqlHistory is the database/sql implementation shared by the SQLite,
// PostgreSQL and MySQL backends. Queries are written with '?' and rebound
// for drivers that use numbered placeholders.
type sqlHistory struct {
	db       *sql.DB
	numbered bool
	// serializes writers on SQLite; nil elsewhere
	mu *sync.RWMutex
}

func (r *sqlHistory) rebind(query string) string {
	if !r.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func (r *sqlHistory) lock() func() {
	if r.mu == nil {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

func (r *sqlHistory) rlock() func() {
	if r.mu == nil {
		return func() {}
	}
	r.mu.RLock()
	return r.mu.RUnlock
}

// Record appends a finished run.
func (r *sqlHistory) Record(ctx context.Context, run model.SyncRun) error {
	defer r.lock()()

	var next sql.NullInt64
	if run.NextOffset != nil {
		next = sql.NullInt64{Int64: int64(*run.NextOffset), Valid: true}
	}

	query := r.rebind(`INSERT INTO sync_runs (` + historyColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query,
		run.ID, string(run.Kind), string(run.Trigger), string(run.Source),
		run.StartedAt.UnixMilli(), run.DurationMs,
		run.ItemsProcessed, run.ItemsUpdated, run.ErrorCount,
		run.Success, next, run.Message)
	if err != nil {
		return fmt.Errorf("failed to record sync run: %w", err)
	}
	return nil
}

// Recent returns the newest runs first.
func (r *sqlHistory) Recent(ctx context.Context, kind model.SyncKind, limit int) ([]model.SyncRun, error) {
	defer r.rlock()()

	if limit <= 0 {
		limit = 20
	}

	var (
		rows *sql.Rows
		err  error
	)
	if kind == "" {
		rows, err = r.db.QueryContext(ctx, r.rebind(`SELECT `+historyColumns+`
			FROM sync_runs ORDER BY started_at_ms DESC LIMIT ?`), limit)
	} else {
		rows, err = r.db.QueryContext(ctx, r.rebind(`SELECT `+historyColumns+`
			FROM sync_runs WHERE kind = ? ORDER BY started_at_ms DESC LIMIT ?`), string(kind), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query sync runs: %w", err)
	}
	defer rows.Close()

	var runs []model.SyncRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// LastSuccess returns the newest successful run of kind.
func (r *sqlHistory) LastSuccess(ctx context.Context, kind model.SyncKind) (*model.SyncRun, error) {
	defer r.rlock()()

	row := r.db.QueryRowContext(ctx, r.rebind(`SELECT `+historyColumns+`
		FROM sync_runs WHERE kind = ? AND success = ? ORDER BY started_at_ms DESC LIMIT 1`),
		string(kind), true)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// Prune deletes runs older than retention.
func (r *sqlHistory) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	defer r.lock()()

	cutoff := time.Now().Add(-retention).UnixMilli()
	result, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM sync_runs WHERE started_at_ms < ?`), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune sync runs: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (r *sqlHistory) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (*model.SyncRun, error) {
	var (
		run             model.SyncRun
		kind, trig, src string
		startedMs       int64
		next            sql.NullInt64
		message         sql.NullString
	)
	err := s.Scan(&run.ID, &kind, &trig, &src, &startedMs, &run.DurationMs,
		&run.ItemsProcessed, &run.ItemsUpdated, &run.ErrorCount,
		&run.Success, &next, &message)
	if err != nil {
		return nil, err
	}

	run.Kind = model.SyncKind(kind)
	run.Trigger = model.Trigger(trig)
	run.Source = model.Source(src)
	run.StartedAt = time.UnixMilli(startedMs).UTC()
	run.Message = message.String
	if next.Valid {
		v := int(next.Int64)
		run.NextOffset = &v
	}
	return &run, nil
}
