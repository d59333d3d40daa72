package repository

import (
	"context"
	"time"

	"github.com/Qmop1967/Clients-Console-sub001/internal/model"
)

// HistoryRepository stores one row per sync run for the status endpoints.
type HistoryRepository interface {
	// Record appends a finished run.
	Record(ctx context.Context, run model.SyncRun) error

	// Recent returns the newest runs first. An empty kind matches every kind.
	Recent(ctx context.Context, kind model.SyncKind, limit int) ([]model.SyncRun, error)

	// LastSuccess returns the newest successful run of kind, or nil.
	LastSuccess(ctx context.Context, kind model.SyncKind) (*model.SyncRun, error)

	// Prune deletes runs started before now minus retention.
	Prune(ctx context.Context, retention time.Duration) (int64, error)

	// Close closes the underlying connection.
	Close() error
}
