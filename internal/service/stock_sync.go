package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Qmop1967/Clients-Console-sub001/internal/batch"
	"github.com/Qmop1967/Clients-Console-sub001/internal/erp"
	"github.com/Qmop1967/Clients-Console-sub001/internal/model"
	"github.com/Qmop1967/Clients-Console-sub001/internal/repository"
)

const (
	// MaxBatchSize is the largest page the ERP item list accepts.
	MaxBatchSize     = 200
	defaultBatchSize = 100
	// deadlineMargin is left before a context deadline for the final writes.
	deadlineMargin = 5 * time.Second
)

// SyncOptions bounds one reconciliation pass.
type SyncOptions struct {
	BatchSize int
	Delay     time.Duration
	// MaxItems of 0 processes until the catalog is exhausted.
	MaxItems int
	Offset   int
	Source   model.Source
}

// ItemError records one failed item (or page) without aborting the pass.
type ItemError struct {
	ItemID string `json:"itemId,omitempty"`
	Page   int    `json:"page,omitempty"`
	Error  string `json:"error"`
}

// SyncResult summarizes a pass. NextOffset is nil when the catalog was
// exhausted, otherwise it is where a follow-up call should resume.
type SyncResult struct {
	Source         model.Source `json:"source"`
	ItemsProcessed int          `json:"itemsProcessed"`
	ItemsUpdated   int          `json:"itemsUpdated"`
	ItemsWithStock int          `json:"itemsWithStock"`
	Errors         []ItemError  `json:"errors"`
	DurationMs     int64        `json:"durationMs"`
	TotalItems     int          `json:"totalItems"`
	NextOffset     *int         `json:"nextOffset"`
}

// Success is false only when items were attempted and none was updated, or
// when nothing could be attempted because of an error.
func (r *SyncResult) Success() bool {
	if r.ItemsUpdated > 0 {
		return true
	}
	return r.ItemsProcessed == 0 && len(r.Errors) == 0
}

// QuickSyncResult summarizes a targeted sync of named items.
type QuickSyncResult struct {
	Success     bool        `json:"success"`
	ItemsSynced int         `json:"itemsSynced"`
	Errors      []ItemError `json:"errors,omitempty"`
}

// Reconciler overwrites cached stock with authoritative ERP values.
type Reconciler struct {
	catalog     Catalog
	stock       *repository.StockStore
	concurrency int
	logger      *zap.Logger
	sleep       func(context.Context, time.Duration) error
}

// NewReconciler creates a reconciler. concurrency bounds quick-sync fetches.
func NewReconciler(catalog Catalog, stock *repository.StockStore, concurrency int, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Reconciler{
		catalog:     catalog,
		stock:       stock,
		concurrency: concurrency,
		logger:      logger.Named("stock-sync"),
		sleep:       sleepContext,
	}
}

// Sync pages through the catalog starting at opts.Offset. Per-item failures
// are collected; the pass never retries on its own.
func (r *Reconciler) Sync(ctx context.Context, opts SyncOptions) (*SyncResult, error) {
	start := time.Now()
	if opts.Source == "" {
		opts.Source = model.SourceInventory
	}
	if _, err := model.ParseSource(string(opts.Source)); err != nil {
		return nil, err
	}
	if opts.Offset < 0 {
		return nil, fmt.Errorf("offset must not be negative, got %d", opts.Offset)
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}

	result := &SyncResult{Source: opts.Source, Errors: []ItemError{}}
	page := opts.Offset/batchSize + 1
	skip := opts.Offset % batchSize
	position := opts.Offset
	exhausted := false

	r.logger.Info("stock sync started",
		zap.String("source", string(opts.Source)),
		zap.Int("offset", opts.Offset),
		zap.Int("batch_size", batchSize),
		zap.Int("max_items", opts.MaxItems),
	)

	for {
		if opts.MaxItems > 0 && result.ItemsProcessed >= opts.MaxItems {
			break
		}
		if nearDeadline(ctx, opts.Delay) {
			r.logger.Warn("stopping before deadline", zap.Int("position", position))
			break
		}

		resp, err := r.catalog.ListItems(ctx, opts.Source, page, batchSize)
		if err != nil {
			r.logger.Error("failed to list items", zap.Int("page", page), zap.Error(err))
			result.Errors = append(result.Errors, ItemError{Page: page, Error: err.Error()})
			break
		}

		items := resp.Items
		if skip > 0 {
			if skip >= len(items) {
				items = nil
			} else {
				items = items[skip:]
			}
			skip = 0
		}
		moreOnPage := false
		if opts.MaxItems > 0 {
			if remaining := opts.MaxItems - result.ItemsProcessed; len(items) > remaining {
				items = items[:remaining]
				moreOnPage = true
			}
		}

		r.store(ctx, opts.Source, items, result)
		position += len(items)

		if !moreOnPage && !resp.PageContext.HasMorePage {
			exhausted = true
			break
		}
		if moreOnPage || (opts.MaxItems > 0 && result.ItemsProcessed >= opts.MaxItems) {
			break
		}

		page++
		if opts.Delay > 0 {
			if err := r.sleep(ctx, opts.Delay); err != nil {
				break
			}
		}
	}

	result.TotalItems = position
	if !exhausted {
		next := position
		result.NextOffset = &next
	}
	result.DurationMs = time.Since(start).Milliseconds()

	r.logger.Info("stock sync finished",
		zap.Int("processed", result.ItemsProcessed),
		zap.Int("updated", result.ItemsUpdated),
		zap.Int("with_stock", result.ItemsWithStock),
		zap.Int("errors", len(result.Errors)),
		zap.Bool("exhausted", exhausted),
		zap.Int64("duration_ms", result.DurationMs),
	)
	return result, nil
}

func (r *Reconciler) store(ctx context.Context, source model.Source, items []erp.Item, result *SyncResult) {
	now := time.Now().UTC()
	for _, item := range items {
		result.ItemsProcessed++
		if item.ItemID == "" {
			result.Errors = append(result.Errors, ItemError{Error: "item without item_id"})
			continue
		}
		rec := model.StockRecord{
			ItemID:    item.ItemID,
			Quantity:  item.Quantity(source),
			Source:    source,
			UpdatedAt: now,
		}
		if err := r.stock.Put(ctx, rec); err != nil {
			result.Errors = append(result.Errors, ItemError{ItemID: item.ItemID, Error: err.Error()})
			continue
		}
		result.ItemsUpdated++
		if rec.InStock() {
			result.ItemsWithStock++
		}
	}
}

// QuickSync refreshes only the named items, bypassing pagination.
func (r *Reconciler) QuickSync(ctx context.Context, itemIDs []string, source model.Source) (*QuickSyncResult, error) {
	if source == "" {
		source = model.SourceInventory
	}
	if _, err := model.ParseSource(string(source)); err != nil {
		return nil, err
	}
	ids := uniqueNonEmpty(itemIDs)
	if len(ids) == 0 {
		return &QuickSyncResult{Success: true}, nil
	}

	outcomes := batch.Run(ctx, r.concurrency, ids, func(ctx context.Context, id string) (model.StockRecord, error) {
		item, err := r.catalog.GetItem(ctx, source, id)
		if err != nil {
			return model.StockRecord{}, err
		}
		rec := model.StockRecord{
			ItemID:    id,
			Quantity:  item.Quantity(source),
			Source:    source,
			UpdatedAt: time.Now().UTC(),
		}
		return rec, r.stock.Put(ctx, rec)
	})

	result := &QuickSyncResult{}
	for _, o := range outcomes {
		if o.Err != nil {
			msg := o.Err.Error()
			if errors.Is(o.Err, erp.ErrNotFound) {
				msg = "item not found upstream"
			}
			result.Errors = append(result.Errors, ItemError{ItemID: o.Input, Error: msg})
			r.logger.Warn("quick sync item failed", zap.String("item_id", o.Input), zap.Error(o.Err))
			continue
		}
		result.ItemsSynced++
	}
	result.Success = result.ItemsSynced > 0

	r.logger.Info("quick sync finished",
		zap.Int("requested", len(ids)),
		zap.Int("synced", result.ItemsSynced),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}

func nearDeadline(ctx context.Context, delay time.Duration) bool {
	deadline, ok := ctx.Deadline()
	if !ok {
		return ctx.Err() != nil
	}
	return time.Until(deadline) < deadlineMargin+delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func uniqueNonEmpty(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
