package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Qmop1967/Clients-Console-sub001/internal/cache"
	"github.com/Qmop1967/Clients-Console-sub001/internal/lock"
	"github.com/Qmop1967/Clients-Console-sub001/internal/model"
	"github.com/Qmop1967/Clients-Console-sub001/internal/repository"
	"github.com/Qmop1967/Clients-Console-sub001/internal/storage"
)

type orchestratorFixture struct {
	orch    *Orchestrator
	erp     *fakeERP
	cache   cache.Cache
	stock   *repository.StockStore
	history *fakeHistory
	paths   *fakeRevalidator
}

func newOrchestratorFixture(t *testing.T, n int) *orchestratorFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	c := newMemCache(t)
	f := &orchestratorFixture{
		erp:     newFakeERP(n),
		cache:   c,
		stock:   repository.NewStockStore(c),
		history: &fakeHistory{},
		paths:   &fakeRevalidator{},
	}

	rec := NewReconciler(f.erp, f.stock, 4, logger)
	rec.sleep = func(context.Context, time.Duration) error { return nil }
	status := repository.NewStatusStore(c)
	images := NewImageSyncer(f.erp, f.erp, repository.NewImageStore(c), status,
		storage.NewMemoryStorage(""), c, ImageSyncConfig{}, nil, logger)

	f.orch = NewOrchestrator(OrchestratorDeps{
		Reconciler:  rec,
		Images:      images,
		Staleness:   NewStalenessTracker(repository.NewSyncMetaStore(c)),
		Invalidator: NewInvalidator(c, f.paths, nil, logger),
		History:     f.history,
		Locks:       c,
		StatusStore: status,
		Logger:      logger,
	}, OrchestratorConfig{BatchSize: 50, StaleThreshold: time.Hour})
	return f
}

func TestOrchestrator_RunFullMarksSyncedAndRecords(t *testing.T) {
	ctx := context.Background()
	f := newOrchestratorFixture(t, 120)

	res, err := f.orch.RunFull(ctx, RunOptions{Trigger: model.TriggerManual})
	require.NoError(t, err)
	require.False(t, res.Skipped)
	assert.Equal(t, 120, res.Sync.ItemsUpdated)
	assert.Nil(t, res.Sync.NextOffset)
	assert.NotEmpty(t, res.RunID)
	require.NotNil(t, res.Invalidation)
	assert.Len(t, f.paths.calls, 1)

	require.Len(t, f.history.runs, 1)
	run := f.history.runs[0]
	assert.Equal(t, res.RunID, run.ID)
	assert.Equal(t, model.SyncKindStock, run.Kind)
	assert.True(t, run.Success)

	status, err := f.orch.Status(ctx)
	require.NoError(t, err)
	require.NotNil(t, status.LastSync)
	assert.Equal(t, 120, status.LastSync.ItemCount)
	assert.False(t, status.Stale)
	assert.False(t, status.Locked)
	assert.Len(t, status.RecentRuns, 1)

	locked, err := lock.New(f.cache, lock.StockSyncKey, time.Minute).IsLocked(ctx)
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestOrchestrator_FreshCacheSkips(t *testing.T) {
	ctx := context.Background()
	f := newOrchestratorFixture(t, 10)

	_, err := f.orch.RunFull(ctx, RunOptions{Trigger: model.TriggerManual})
	require.NoError(t, err)
	calls := f.erp.listCalls

	res, err := f.orch.RunScheduled(ctx, model.TriggerCron)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, SkipFresh, res.Reason)
	assert.Equal(t, calls, f.erp.listCalls)

	res, err = f.orch.RunFull(ctx, RunOptions{Trigger: model.TriggerManual, Force: true})
	require.NoError(t, err)
	assert.False(t, res.Skipped)
}

func TestOrchestrator_LockHeld(t *testing.T) {
	ctx := context.Background()
	f := newOrchestratorFixture(t, 10)

	held := lock.New(f.cache, lock.StockSyncKey, time.Minute)
	ok, err := held.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.orch.RunFull(ctx, RunOptions{Trigger: model.TriggerManual, Force: true})
	assert.ErrorIs(t, err, ErrSyncInProgress)

	res, err := f.orch.RunScheduled(ctx, model.TriggerCron)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, SkipLocked, res.Reason)

	// Chunked runs are serialized by the caller and bypass the lock.
	res, err = f.orch.RunFull(ctx, RunOptions{Trigger: model.TriggerManual, SkipLock: true, Force: true, Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Sync.ItemsUpdated)
	require.NotNil(t, res.Sync.NextOffset)
	assert.Equal(t, 5, *res.Sync.NextOffset)

	status, err := f.orch.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.Locked)
	assert.Nil(t, status.LastSync)
	assert.True(t, status.Stale)
}

func TestOrchestrator_QuickSyncDefaultsSource(t *testing.T) {
	ctx := context.Background()
	f := newOrchestratorFixture(t, 3)
	f.erp.setQuantity("item-001", 42)

	res, err := f.orch.QuickSync(ctx, []string{"item-001"}, "")
	require.NoError(t, err)
	assert.True(t, res.Success)

	rec, err := f.stock.Get(ctx, "item-001")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 42, rec.Quantity)
	assert.Equal(t, model.SourceInventory, rec.Source)
	assert.Empty(t, f.history.runs)
}

func TestOrchestrator_RunImagesRecordsHistory(t *testing.T) {
	ctx := context.Background()
	f := newOrchestratorFixture(t, 3)

	res, err := f.orch.RunImages(ctx, model.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Summary.NoImage)
	assert.Nil(t, res.Invalidation)

	require.Len(t, f.history.runs, 1)
	assert.Equal(t, model.SyncKindImage, f.history.runs[0].Kind)
	assert.True(t, f.history.runs[0].Success)
}
