package repository

import (
	"context"
	"time"

	"github.com/Qmop1967/Clients-Console-sub001/internal/model"
)

// NoopHistory discards every run. Used when HISTORY_DB_TYPE=none.
type NoopHistory struct{}

func (NoopHistory) Record(context.Context, model.SyncRun) error { return nil }

func (NoopHistory) Recent(context.Context, model.SyncKind, int) ([]model.SyncRun, error) {
	return nil, nil
}

func (NoopHistory) LastSuccess(context.Context, model.SyncKind) (*model.SyncRun, error) {
	return nil, nil
}

func (NoopHistory) Prune(context.Context, time.Duration) (int64, error) { return 0, nil }

func (NoopHistory) Close() error { return nil }

var _ HistoryRepository = NoopHistory{}
