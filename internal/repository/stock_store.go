package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Qmop1967/Clients-Console-sub001/internal/cache"
	"github.com/Qmop1967/Clients-Console-sub001/internal/model"
)

// Key layout shared with the storefront readers.
const (
	stockKeyPrefix = "stock:"
	syncMetaKey    = "stock:sync:meta"
)

// StockKey returns the cache key of an item's stock record.
func StockKey(itemID string) string {
	return stockKeyPrefix + itemID
}

// StockStore persists StockRecords keyed by item id. Writes are per-key
// upserts, so concurrent writers only race on the same item.
type StockStore struct {
	cache cache.Cache
	now   func() time.Time
}

// NewStockStore creates a stock store over c.
func NewStockStore(c cache.Cache) *StockStore {
	return &StockStore{cache: c, now: time.Now}
}

// Get returns the record for itemID, or nil when none is cached.
func (s *StockStore) Get(ctx context.Context, itemID string) (*model.StockRecord, error) {
	data, err := s.cache.Get(ctx, StockKey(itemID))
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stock for %s: %w", itemID, err)
	}

	var rec model.StockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode stock for %s: %w", itemID, err)
	}
	return &rec, nil
}

// GetMany returns the cached records for ids. Missing ids are omitted.
func (s *StockStore) GetMany(ctx context.Context, ids []string) (map[string]model.StockRecord, error) {
	out := make(map[string]model.StockRecord, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			out[id] = *rec
		}
	}
	return out, nil
}

// Put upserts a single record. Negative quantities are stored as zero and a
// missing timestamp is filled in.
func (s *StockStore) Put(ctx context.Context, rec model.StockRecord) error {
	if rec.ItemID == "" {
		return errors.New("stock record requires an item id")
	}
	if rec.Quantity < 0 {
		rec.Quantity = 0
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = s.now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.cache.Set(ctx, StockKey(rec.ItemID), data, 0); err != nil {
		return fmt.Errorf("failed to store stock for %s: %w", rec.ItemID, err)
	}
	return nil
}

// PutMany upserts each record independently; records not listed are left
// untouched. It returns how many were written and the joined failures.
func (s *StockStore) PutMany(ctx context.Context, recs []model.StockRecord) (int, error) {
	var errs []error
	written := 0
	for _, rec := range recs {
		if err := s.Put(ctx, rec); err != nil {
			errs = append(errs, err)
			continue
		}
		written++
	}
	return written, errors.Join(errs...)
}

// SyncMetaStore persists the last full-sync marker used for staleness checks.
type SyncMetaStore struct {
	cache cache.Cache
}

// NewSyncMetaStore creates a meta store over c.
func NewSyncMetaStore(c cache.Cache) *SyncMetaStore {
	return &SyncMetaStore{cache: c}
}

// Load returns the last sync marker, or nil when none was recorded.
func (s *SyncMetaStore) Load(ctx context.Context) (*model.SyncMeta, error) {
	data, err := s.cache.Get(ctx, syncMetaKey)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sync meta: %w", err)
	}
	var meta model.SyncMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode sync meta: %w", err)
	}
	return &meta, nil
}

// Save overwrites the last sync marker.
func (s *SyncMetaStore) Save(ctx context.Context, meta model.SyncMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, syncMetaKey, data, 0)
}
