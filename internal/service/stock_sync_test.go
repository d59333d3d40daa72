package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Qmop1967/Clients-Console-sub001/internal/model"
	"github.com/Qmop1967/Clients-Console-sub001/internal/repository"
)

func newTestReconciler(t *testing.T, catalog Catalog) (*Reconciler, *repository.StockStore) {
	t.Helper()
	stock := repository.NewStockStore(newMemCache(t))
	r := NewReconciler(catalog, stock, 4, zaptest.NewLogger(t))
	r.sleep = func(context.Context, time.Duration) error { return nil }
	return r, stock
}

func TestReconciler_SyncFullCatalog(t *testing.T) {
	ctx := context.Background()
	catalog := newFakeERP(250)
	r, stock := newTestReconciler(t, catalog)

	res, err := r.Sync(ctx, SyncOptions{BatchSize: 100, Source: model.SourceInventory})
	require.NoError(t, err)

	assert.Equal(t, 250, res.ItemsProcessed)
	assert.Equal(t, 250, res.ItemsUpdated)
	assert.Equal(t, 200, res.ItemsWithStock)
	assert.Equal(t, 250, res.TotalItems)
	assert.Nil(t, res.NextOffset)
	assert.True(t, res.Success())
	assert.Equal(t, 3, catalog.listCalls)

	rec, err := stock.Get(ctx, "item-004")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 4, rec.Quantity)
	assert.Equal(t, model.SourceInventory, rec.Source)
}

func TestReconciler_ChunkedSyncCoversCatalogOnce(t *testing.T) {
	for _, tc := range []struct {
		name      string
		batchSize int
		limit     int
	}{
		{"aligned chunks", 100, 100},
		{"chunk smaller than page", 100, 70},
		{"chunk larger than page", 40, 100},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			r, stock := newTestReconciler(t, newFakeERP(250))

			offset, processed, calls := 0, 0, 0
			for {
				calls++
				require.Less(t, calls, 20, "sync did not converge")
				res, err := r.Sync(ctx, SyncOptions{BatchSize: tc.batchSize, MaxItems: tc.limit, Offset: offset})
				require.NoError(t, err)
				processed += res.ItemsProcessed
				if res.NextOffset == nil {
					break
				}
				assert.Equal(t, offset+res.ItemsProcessed, *res.NextOffset)
				offset = *res.NextOffset
			}

			assert.Equal(t, 250, processed, "every item processed exactly once")
			ids := make([]string, 0, 250)
			for _, item := range newFakeERP(250).items {
				ids = append(ids, item.ItemID)
			}
			got, err := stock.GetMany(ctx, ids)
			require.NoError(t, err)
			assert.Len(t, got, 250)
		})
	}
}

func TestReconciler_ResumeFromUnalignedOffset(t *testing.T) {
	r, _ := newTestReconciler(t, newFakeERP(250))

	res, err := r.Sync(context.Background(), SyncOptions{BatchSize: 100, Offset: 150, MaxItems: 60})
	require.NoError(t, err)
	assert.Equal(t, 60, res.ItemsProcessed)
	require.NotNil(t, res.NextOffset)
	assert.Equal(t, 210, *res.NextOffset)
}

func TestReconciler_ExhaustedExactlyAtLimit(t *testing.T) {
	r, _ := newTestReconciler(t, newFakeERP(200))

	res, err := r.Sync(context.Background(), SyncOptions{BatchSize: 100, Offset: 100, MaxItems: 100})
	require.NoError(t, err)
	assert.Equal(t, 100, res.ItemsProcessed)
	assert.Nil(t, res.NextOffset)
}

func TestReconciler_NoDelayAfterFilledChunk(t *testing.T) {
	catalog := newFakeERP(300)
	r, _ := newTestReconciler(t, catalog)
	var sleeps []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	res, err := r.Sync(context.Background(), SyncOptions{BatchSize: 100, MaxItems: 100, Delay: time.Second})
	require.NoError(t, err)
	assert.Equal(t, 100, res.ItemsProcessed)
	require.NotNil(t, res.NextOffset)
	assert.Equal(t, 100, *res.NextOffset)
	assert.Empty(t, sleeps)
	assert.Equal(t, 1, catalog.listCalls)

	sleeps = nil
	res, err = r.Sync(context.Background(), SyncOptions{BatchSize: 100, MaxItems: 200, Delay: time.Second})
	require.NoError(t, err)
	assert.Equal(t, 200, res.ItemsProcessed)
	assert.Equal(t, []time.Duration{time.Second}, sleeps, "delay only between pages of the chunk")
}

func TestReconciler_PageErrorStopsWithResumeOffset(t *testing.T) {
	catalog := newFakeERP(250)
	catalog.listErr[2] = errors.New("upstream 503")
	r, _ := newTestReconciler(t, catalog)

	res, err := r.Sync(context.Background(), SyncOptions{BatchSize: 100})
	require.NoError(t, err)
	assert.Equal(t, 100, res.ItemsProcessed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 2, res.Errors[0].Page)
	require.NotNil(t, res.NextOffset)
	assert.Equal(t, 100, *res.NextOffset)
	assert.True(t, res.Success())
}

func TestReconciler_IdempotentRedelivery(t *testing.T) {
	ctx := context.Background()
	catalog := newFakeERP(3)
	r, stock := newTestReconciler(t, catalog)

	_, err := r.QuickSync(ctx, []string{"item-002"}, model.SourceBooks)
	require.NoError(t, err)
	first, err := stock.Get(ctx, "item-002")
	require.NoError(t, err)

	_, err = r.QuickSync(ctx, []string{"item-002"}, model.SourceBooks)
	require.NoError(t, err)
	second, err := stock.Get(ctx, "item-002")
	require.NoError(t, err)

	assert.Equal(t, first.Quantity, second.Quantity)
	assert.Equal(t, first.Source, second.Source)
}

func TestReconciler_QuickSync(t *testing.T) {
	ctx := context.Background()
	catalog := newFakeERP(5)
	catalog.getErr["item-001"] = errors.New("timeout")
	catalog.setQuantity("item-003", -7)
	r, stock := newTestReconciler(t, catalog)

	res, err := r.QuickSync(ctx, []string{"item-003", "item-001", "item-003", "", "missing"}, model.SourceInventory)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.ItemsSynced)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, "item-001", res.Errors[0].ItemID)
	assert.Equal(t, "missing", res.Errors[1].ItemID)
	assert.Equal(t, "item not found upstream", res.Errors[1].Error)

	rec, err := stock.Get(ctx, "item-003")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Quantity)

	res, err = r.QuickSync(ctx, []string{"missing"}, model.SourceInventory)
	require.NoError(t, err)
	assert.False(t, res.Success)

	res, err = r.QuickSync(ctx, nil, model.SourceInventory)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestReconciler_RejectsBadOptions(t *testing.T) {
	r, _ := newTestReconciler(t, newFakeERP(1))

	_, err := r.Sync(context.Background(), SyncOptions{Source: "CRM"})
	assert.Error(t, err)

	_, err = r.Sync(context.Background(), SyncOptions{Offset: -1})
	assert.Error(t, err)
}

func TestSyncResult_Success(t *testing.T) {
	assert.True(t, (&SyncResult{}).Success())
	assert.True(t, (&SyncResult{ItemsProcessed: 3, ItemsUpdated: 1}).Success())
	assert.False(t, (&SyncResult{ItemsProcessed: 3}).Success())
	assert.False(t, (&SyncResult{Errors: []ItemError{{Page: 1, Error: "x"}}}).Success())
}

func TestReconciler_StopsNearDeadline(t *testing.T) {
	r, _ := newTestReconciler(t, newFakeERP(50))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, err := r.Sync(ctx, SyncOptions{BatchSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ItemsProcessed)
	require.NotNil(t, res.NextOffset)
	assert.Equal(t, 0, *res.NextOffset)
}

var (
	_ Catalog     = (*fakeERP)(nil)
	_ ImageSource = (*fakeERP)(nil)
)
