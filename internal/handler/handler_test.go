package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Qmop1967/Clients-Console-sub001/internal/cache"
	"github.com/Qmop1967/Clients-Console-sub001/internal/model"
	"github.com/Qmop1967/Clients-Console-sub001/internal/repository"
	"github.com/Qmop1967/Clients-Console-sub001/internal/service"
	"github.com/Qmop1967/Clients-Console-sub001/internal/webhook"
)

type fakeRunner struct {
	lastOpts service.RunOptions
	full     *service.RunResult
	fullErr  error
	images   *service.ImageRunResult
	imageErr error
}

func (f *fakeRunner) RunFull(_ context.Context, opts service.RunOptions) (*service.RunResult, error) {
	f.lastOpts = opts
	return f.full, f.fullErr
}

func (f *fakeRunner) RunScheduled(_ context.Context, trigger model.Trigger) (*service.RunResult, error) {
	f.lastOpts = service.RunOptions{Trigger: trigger}
	return f.full, f.fullErr
}

func (f *fakeRunner) RunImages(context.Context, model.Trigger) (*service.ImageRunResult, error) {
	return f.images, f.imageErr
}

func (f *fakeRunner) Status(context.Context) (*service.StatusReport, error) {
	return &service.StatusReport{Stale: true, StaleThreshold: "15m0s", RecentRuns: []model.SyncRun{}}, nil
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func intPtr(n int) *int { return &n }

func TestSyncHandler_Status(t *testing.T) {
	h := NewSyncHandler(&fakeRunner{}, "", zaptest.NewLogger(t))
	rec := httptest.NewRecorder()
	h.Sync(rec, httptest.NewRequest(http.MethodGet, "/api/sync", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "status", body["action"])
	assert.Equal(t, true, body["status"].(map[string]any)["stale"])
}

func TestSyncHandler_ChunkedSync(t *testing.T) {
	runner := &fakeRunner{full: &service.RunResult{
		RunID: "r1",
		Sync:  &service.SyncResult{ItemsProcessed: 100, ItemsUpdated: 100, NextOffset: intPtr(200)},
	}}
	h := NewSyncHandler(runner, "https://sync.example.com/", zaptest.NewLogger(t))

	rec := httptest.NewRecorder()
	h.Sync(rec, httptest.NewRequest(http.MethodGet, "/api/sync?action=sync&offset=100&limit=100&source=books&secret=x", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, service.RunOptions{
		Trigger:  model.TriggerManual,
		Source:   model.SourceBooks,
		SkipLock: true,
		Offset:   100,
		Limit:    100,
	}, runner.lastOpts)

	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "https://sync.example.com/api/sync?action=sync&limit=100&offset=200&source=BOOKS", body["nextSyncUrl"])
	assert.NotContains(t, body["nextSyncUrl"], "secret")
}

func TestSyncHandler_CompleteSyncHasNoNextURL(t *testing.T) {
	runner := &fakeRunner{full: &service.RunResult{Sync: &service.SyncResult{ItemsProcessed: 5, ItemsUpdated: 5}}}
	h := NewSyncHandler(runner, "", nil)

	rec := httptest.NewRecorder()
	h.Sync(rec, httptest.NewRequest(http.MethodGet, "/api/sync?action=sync&force=true", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, runner.lastOpts.Force)
	assert.False(t, runner.lastOpts.SkipLock)
	_, ok := decode(t, rec)["nextSyncUrl"]
	assert.False(t, ok)
}

func TestSyncHandler_Errors(t *testing.T) {
	runner := &fakeRunner{fullErr: service.ErrSyncInProgress}
	h := NewSyncHandler(runner, "", nil)

	rec := httptest.NewRecorder()
	h.Sync(rec, httptest.NewRequest(http.MethodGet, "/api/sync?action=sync", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	for _, q := range []string{"action=explode", "action=sync&offset=-1", "action=sync&limit=abc", "action=sync&source=crm"} {
		rec := httptest.NewRecorder()
		h.Sync(rec, httptest.NewRequest(http.MethodGet, "/api/sync?"+q, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR", q)
	}
}

func TestCronHandler(t *testing.T) {
	runner := &fakeRunner{full: &service.RunResult{Trigger: model.TriggerCron, Skipped: true, Reason: service.SkipFresh}}
	h := NewCronHandler(runner, nil)

	rec := httptest.NewRecorder()
	h.SyncStock(rec, httptest.NewRequest(http.MethodPost, "/api/cron/sync-stock", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["skipped"])
	assert.Equal(t, "fresh", body["reason"])
	assert.Equal(t, model.TriggerCron, runner.lastOpts.Trigger)

	runner.imageErr = service.ErrSyncInProgress
	rec = httptest.NewRecorder()
	h.SyncImages(rec, httptest.NewRequest(http.MethodPost, "/api/cron/sync-images", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "locked", decode(t, rec)["reason"])
}

func TestRevalidateHandler(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache()
	defer c.Close()
	tc := service.NewTagCache(c)
	_, _, err := tc.Remember(ctx, "categories-page", []string{service.TagCategories}, time.Hour,
		func(context.Context) ([]byte, error) { return []byte("x"), nil })
	require.NoError(t, err)

	h := NewRevalidateHandler(service.NewInvalidator(c, nil, nil, nil), nil)

	rec := httptest.NewRecorder()
	h.Revalidate(rec, httptest.NewRequest(http.MethodGet, "/api/revalidate?tag=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.Revalidate(rec, httptest.NewRequest(http.MethodGet, "/api/revalidate?tag=categories", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, true, data["revalidated"])

	ok, err := c.Exists(ctx, "categories-page")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStockHandler(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache()
	defer c.Close()
	stock := repository.NewStockStore(c)
	require.NoError(t, stock.Put(ctx, model.StockRecord{ItemID: "A", Quantity: 4, Source: model.SourceInventory}))

	h := NewStockHandler(stock, service.NewTagCache(c), time.Minute, nil)
	r := chi.NewRouter()
	r.Get("/api/v1/stock", h.ListStock)
	r.Get("/api/v1/stock/{item_id}", h.GetStock)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/api/v1/stock/A")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Equal(t, 4.0, decode(t, rec)["data"].(map[string]any)["quantity"])
	assert.Equal(t, "HIT", get("/api/v1/stock/A").Header().Get("X-Cache"))

	// A stock write followed by invalidation is visible on the next read.
	require.NoError(t, stock.Put(ctx, model.StockRecord{ItemID: "A", Quantity: 9, Source: model.SourceInventory}))
	service.NewInvalidator(c, nil, nil, nil).InvalidateProducts(ctx, "test", "A")
	rec = get("/api/v1/stock/A")
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Equal(t, 9.0, decode(t, rec)["data"].(map[string]any)["quantity"])

	assert.Equal(t, http.StatusNotFound, get("/api/v1/stock/nope").Code)

	rec = get("/api/v1/stock?ids=nope,A,A")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec)["data"].(map[string]any)
	assert.Contains(t, data["items"], "A")
	assert.Equal(t, []any{"nope"}, data["missing"])

	assert.Equal(t, http.StatusBadRequest, get("/api/v1/stock").Code)
}

type recordingDispatcher struct {
	events []model.NormalizedEvent
}

func (d *recordingDispatcher) Dispatch(_ context.Context, ev model.NormalizedEvent) webhook.Ack {
	d.events = append(d.events, ev)
	return webhook.Ack{Handled: true, StockSync: &webhook.StockSyncAck{Success: true, ItemsSynced: 1}}
}

func TestWebhookHandler(t *testing.T) {
	c := cache.NewMemoryCache()
	defer c.Close()
	d := &recordingDispatcher{}
	h := NewWebhookHandler(d, webhook.NewDeduper(c, time.Minute), zaptest.NewLogger(t))

	post := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.Receive(rec, httptest.NewRequest(http.MethodPost, "/api/webhooks/erp", strings.NewReader(body)))
		return rec
	}

	assert.Equal(t, http.StatusBadRequest, post(`{not json`).Code)

	rec := post(`{"event_type":"item.updated","data":{"item_id":"X"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "item.updated", body["event"])
	assert.Equal(t, "item", body["entity"])
	assert.Equal(t, true, body["handled"])
	assert.Equal(t, 1.0, body["stock_sync"].(map[string]any)["itemsSynced"])

	rec = post(`{"event_type":"item.updated","data":{"item_id":"X"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["duplicate"])
	assert.Len(t, d.events, 1)
}

// scriptedDispatcher returns acks in order; a nil entry panics.
type scriptedDispatcher struct {
	acks  []*webhook.Ack
	calls int
}

func (d *scriptedDispatcher) Dispatch(context.Context, model.NormalizedEvent) webhook.Ack {
	ack := d.acks[d.calls]
	d.calls++
	if ack == nil {
		panic("dispatch exploded")
	}
	return *ack
}

func TestWebhookHandler_RetryAfterFailure(t *testing.T) {
	failed := &webhook.Ack{Handled: true, StockSync: &webhook.StockSyncAck{
		Errors: []service.ItemError{{ItemID: "X", Error: "erp unavailable"}},
	}}
	ok := &webhook.Ack{Handled: true, StockSync: &webhook.StockSyncAck{Success: true, ItemsSynced: 1}}
	const body = `{"event_type":"item.updated","data":{"item_id":"X"}}`

	tests := []struct {
		name string
		acks []*webhook.Ack
	}{
		{"failed stock sync", []*webhook.Ack{failed, ok}},
		{"dispatch panic", []*webhook.Ack{nil, ok}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cache.NewMemoryCache()
			defer c.Close()
			d := &scriptedDispatcher{acks: tt.acks}
			h := NewWebhookHandler(d, webhook.NewDeduper(c, time.Minute), zaptest.NewLogger(t))

			post := func() *httptest.ResponseRecorder {
				rec := httptest.NewRecorder()
				h.Receive(rec, httptest.NewRequest(http.MethodPost, "/api/webhooks/erp", strings.NewReader(body)))
				return rec
			}

			if tt.acks[0] == nil {
				assert.Panics(t, func() { post() })
			} else {
				rec := post()
				require.Equal(t, http.StatusOK, rec.Code)
				assert.Equal(t, false, decode(t, rec)["stock_sync"].(map[string]any)["success"])
			}

			rec := post()
			require.Equal(t, http.StatusOK, rec.Code)
			retried := decode(t, rec)
			assert.NotContains(t, retried, "duplicate")
			assert.Equal(t, true, retried["handled"])
			assert.Equal(t, 2, d.calls)

			// Once a delivery succeeded, the next identical one is a duplicate.
			assert.Equal(t, true, decode(t, post())["duplicate"])
			assert.Equal(t, 2, d.calls)
		})
	}
}
