package service

import (
	"context"
	"time"

	"github.com/Qmop1967/Clients-Console-sub001/internal/model"
	"github.com/Qmop1967/Clients-Console-sub001/internal/repository"
)

// StalenessTracker answers whether the stock cache needs a full refresh.
type StalenessTracker struct {
	meta *repository.SyncMetaStore
	now  func() time.Time
}

// NewStalenessTracker creates a tracker over meta.
func NewStalenessTracker(meta *repository.SyncMetaStore) *StalenessTracker {
	return &StalenessTracker{meta: meta, now: time.Now}
}

// MarkSynced records a completed full sync of itemCount items.
func (t *StalenessTracker) MarkSynced(ctx context.Context, itemCount int) error {
	return t.meta.Save(ctx, model.SyncMeta{LastSync: t.now().UTC(), ItemCount: itemCount})
}

// LastSync returns the last recorded sync, or nil.
func (t *StalenessTracker) LastSync(ctx context.Context) (*model.SyncMeta, error) {
	return t.meta.Load(ctx)
}

// IsStale reports true when no sync was recorded or the last one is at
// least threshold old.
func (t *StalenessTracker) IsStale(ctx context.Context, threshold time.Duration) (bool, error) {
	meta, err := t.meta.Load(ctx)
	if err != nil {
		return false, err
	}
	if meta == nil {
		return true, nil
	}
	return t.now().Sub(meta.LastSync) >= threshold, nil
}
