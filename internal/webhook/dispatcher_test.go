package webhook

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Qmop1967/Clients-Console-sub001/internal/cache"
	"github.com/Qmop1967/Clients-Console-sub001/internal/erp"
	"github.com/Qmop1967/Clients-Console-sub001/internal/model"
	"github.com/Qmop1967/Clients-Console-sub001/internal/repository"
	"github.com/Qmop1967/Clients-Console-sub001/internal/service"
	"github.com/Qmop1967/Clients-Console-sub001/internal/storage"
)

// upstream is an in-memory ERP.
type upstream struct {
	mu       sync.Mutex
	qty      map[string]int64
	invoices map[string]*erp.Invoice
	images   map[string]*erp.Image
	gets     []string
}

func newUpstream() *upstream {
	return &upstream{qty: map[string]int64{}, invoices: map[string]*erp.Invoice{}, images: map[string]*erp.Image{}}
}

func (u *upstream) ListItems(context.Context, model.Source, int, int) (*erp.ItemPage, error) {
	return &erp.ItemPage{}, nil
}

func (u *upstream) GetItem(_ context.Context, _ model.Source, id string) (*erp.Item, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.gets = append(u.gets, id)
	q, ok := u.qty[id]
	if !ok {
		return nil, &erp.APIError{StatusCode: 404, Code: 1002, Message: "not found"}
	}
	d := decimal.NewNullDecimal(decimal.NewFromInt(q))
	return &erp.Item{ItemID: id, AvailableStock: d, ActualAvailableStock: d}, nil
}

func (u *upstream) GetItemImage(_ context.Context, id string) (*erp.Image, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if img, ok := u.images[id]; ok {
		return img, nil
	}
	return nil, &erp.APIError{StatusCode: 404, Message: "no image"}
}

func (u *upstream) GetInvoice(_ context.Context, id string) (*erp.Invoice, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if inv, ok := u.invoices[id]; ok {
		return inv, nil
	}
	return nil, &erp.APIError{StatusCode: 404, Code: 1002, Message: "Invoice does not exist."}
}

type dispatchFixture struct {
	dispatcher *Dispatcher
	erp        *upstream
	cache      cache.Cache
	stock      *repository.StockStore
	images     *repository.ImageStore
	objects    *storage.MemoryStorage
	tags       *service.TagCache
}

func newDispatchFixture(t *testing.T) *dispatchFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	c := cache.NewMemoryCache()
	t.Cleanup(func() { c.Close() })

	f := &dispatchFixture{
		erp:     newUpstream(),
		cache:   c,
		stock:   repository.NewStockStore(c),
		images:  repository.NewImageStore(c),
		objects: storage.NewMemoryStorage("https://cdn.example.com"),
		tags:    service.NewTagCache(c),
	}
	syncer := service.NewImageSyncer(f.erp, f.erp, f.images, repository.NewStatusStore(c), f.objects, c,
		service.ImageSyncConfig{}, nil, logger)
	f.dispatcher = NewDispatcher(DispatcherDeps{
		Stock:       service.NewReconciler(f.erp, f.stock, 2, logger),
		Images:      syncer,
		Invoices:    f.erp,
		Invalidator: service.NewInvalidator(c, nil, nil, logger),
		Source:      model.SourceInventory,
		Logger:      logger,
	})
	return f
}

// remember caches a value under key tagged with tag.
func (f *dispatchFixture) remember(t *testing.T, key, tag string) {
	t.Helper()
	_, _, err := f.tags.Remember(context.Background(), key, []string{tag}, time.Hour,
		func(context.Context) ([]byte, error) { return []byte("v"), nil })
	require.NoError(t, err)
}

func (f *dispatchFixture) cached(t *testing.T, key string) bool {
	t.Helper()
	ok, err := f.cache.Exists(context.Background(), key)
	require.NoError(t, err)
	return ok
}

func dispatchBody(t *testing.T, d *Dispatcher, body string) Ack {
	t.Helper()
	ev, err := Parse([]byte(body))
	require.NoError(t, err)
	return d.Dispatch(context.Background(), ev)
}

func TestDispatch_ItemUpdatedWithoutImageDeletesImage(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)
	f.erp.qty["X"] = 7

	url, err := f.objects.Put(ctx, "products/X.jpg", []byte("img"), "image/jpeg")
	require.NoError(t, err)
	require.NoError(t, f.images.Save(ctx, model.ImageRecord{ItemID: "X", BlobURL: url, DocID: strPtr("d1"), ImageName: strPtr("x.jpg")}))
	f.remember(t, "product-detail:X", service.ProductTag("X"))

	ack := dispatchBody(t, f.dispatcher, `{"event_type":"item.updated","data":{"item_id":"X","name":"Widget"}}`)
	assert.True(t, ack.Handled)

	require.NotNil(t, ack.StockSync)
	assert.True(t, ack.StockSync.Success)
	assert.Equal(t, 1, ack.StockSync.ItemsSynced)
	rec, err := f.stock.Get(ctx, "X")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 7, rec.Quantity)

	require.NotNil(t, ack.Image)
	assert.Equal(t, service.ImageDeleted, ack.Image.Action)
	assert.Equal(t, 0, f.objects.Len())
	stored, err := f.images.Get(ctx, "X")
	require.NoError(t, err)
	assert.True(t, stored.IsEmpty())

	assert.False(t, f.cached(t, "product-detail:X"))
	require.NotNil(t, ack.Invalidation)
	assert.Equal(t, 0, ack.Invalidation.Failures())
}

func TestDispatch_ItemUpdatedForcesImageUpload(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)
	f.erp.qty["X"] = 1
	f.erp.images["X"] = &erp.Image{Data: []byte("png"), ContentType: "image/png"}
	require.NoError(t, f.images.Save(ctx, model.ImageRecord{ItemID: "X", DocID: strPtr("d1")}))

	ack := dispatchBody(t, f.dispatcher, `{"event_type":"item.updated","data":{"item_id":"X","image_document_id":"d1"}}`)
	require.NotNil(t, ack.Image)
	assert.Equal(t, service.ImageUploaded, ack.Image.Action)
	assert.Equal(t, "forced", ack.Image.Reason)

	// Raw-entity deliveries carry no verb, so change detection applies.
	ack = dispatchBody(t, f.dispatcher, `{"item":{"item_id":"X","image_document_id":"d1"}}`)
	require.NotNil(t, ack.Image)
	assert.Equal(t, service.ImageUnchanged, ack.Image.Action)
}

func TestDispatch_InvoiceNotFound(t *testing.T) {
	f := newDispatchFixture(t)
	f.remember(t, "shop:en", service.TagProducts)

	ack := dispatchBody(t, f.dispatcher, `{"event_type":"invoice.updated","data":{"invoice_id":"INV-404","customer_id":"C1"}}`)
	assert.True(t, ack.Handled)
	require.NotNil(t, ack.StockSync)
	assert.True(t, ack.StockSync.Success)
	assert.True(t, ack.StockSync.InvoiceNotFound)
	assert.Empty(t, ack.StockSync.Errors)
	assert.Empty(t, f.erp.gets)
	assert.False(t, f.cached(t, "shop:en"))
}

func TestDispatch_InvoiceRefetchesLineItems(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)
	f.erp.qty["A"] = 3
	f.erp.qty["B"] = 0
	f.erp.invoices["INV-1"] = &erp.Invoice{
		InvoiceID:  "INV-1",
		CustomerID: "C1",
		LineItems:  []erp.LineItem{{ItemID: "A"}, {ItemID: "B"}, {ItemID: "A"}},
	}
	f.remember(t, "invoices-page:C1", service.InvoicesTag("C1"))

	ack := dispatchBody(t, f.dispatcher, `{"event_type":"invoice.created","data":{"invoice_id":"INV-1","customer_id":"C1"}}`)
	require.NotNil(t, ack.StockSync)
	assert.True(t, ack.StockSync.Success)
	assert.Equal(t, 2, ack.StockSync.ItemsSynced)
	assert.ElementsMatch(t, []string{"A", "B"}, f.erp.gets)

	rec, err := f.stock.Get(ctx, "A")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 3, rec.Quantity)
	assert.False(t, f.cached(t, "invoices-page:C1"))
}

func TestDispatch_LineItemsAreDeduplicated(t *testing.T) {
	f := newDispatchFixture(t)
	f.erp.qty["A"] = 1
	f.erp.qty["B"] = 2
	f.remember(t, "orders-page:C9", service.OrdersTag("C9"))

	ack := dispatchBody(t, f.dispatcher, `{"salesorder":{"customer_id":"C9","line_items":[{"item_id":"A"},{"item_id":"B"},{"item_id":"A"}]}}`)
	assert.True(t, ack.Handled)
	require.NotNil(t, ack.StockSync)
	assert.Equal(t, 2, ack.StockSync.ItemsSynced)
	assert.ElementsMatch(t, []string{"A", "B"}, f.erp.gets)
	assert.False(t, f.cached(t, "orders-page:C9"))
}

func TestDispatch_PartialFailureStillInvalidates(t *testing.T) {
	f := newDispatchFixture(t)
	f.erp.qty["A"] = 1
	f.remember(t, "shop:en", service.TagProducts)

	ack := dispatchBody(t, f.dispatcher, `{"event_type":"bill.created","data":{"line_items":[{"item_id":"A"},{"item_id":"GONE"}]}}`)
	require.NotNil(t, ack.StockSync)
	assert.True(t, ack.StockSync.Success)
	assert.Equal(t, 1, ack.StockSync.ItemsSynced)
	require.Len(t, ack.StockSync.Errors, 1)
	assert.Equal(t, "GONE", ack.StockSync.Errors[0].ItemID)
	assert.False(t, f.cached(t, "shop:en"))
}

func TestDispatch_NonStockPartitions(t *testing.T) {
	for _, tc := range []struct {
		body string
		tag  string
	}{
		{`{"event_type":"category.updated","data":{}}`, service.TagCategories},
		{`{"pricebooks":{"pricebook_id":"p"}}`, service.TagPriceLists},
		{`{"event_type":"contact.updated","data":{"contact_id":"C1"}}`, service.OrdersTag("C1")},
		{`{"event_type":"contact.created","data":{}}`, service.TagCustomers},
		{`{"event_type":"vendor_payment.created","data":{}}`, service.TagVendorPayments},
		{`{"expense":{"expense_id":"e"}}`, service.TagExpenses},
	} {
		t.Run(tc.body, func(t *testing.T) {
			f := newDispatchFixture(t)
			f.remember(t, "partition", tc.tag)
			f.remember(t, "shop:en", service.TagProducts)

			ack := dispatchBody(t, f.dispatcher, tc.body)
			assert.True(t, ack.Handled)
			assert.Nil(t, ack.StockSync)
			assert.False(t, f.cached(t, "partition"))
			assert.True(t, f.cached(t, "shop:en"))
			assert.Empty(t, f.erp.gets)
		})
	}
}

func TestDispatch_Unknown(t *testing.T) {
	f := newDispatchFixture(t)
	f.remember(t, "shop:en", service.TagProducts)

	ack := dispatchBody(t, f.dispatcher, `{"hello":"world"}`)
	assert.False(t, ack.Handled)
	assert.Nil(t, ack.Invalidation)
	assert.True(t, f.cached(t, "shop:en"))

	ack = dispatchBody(t, f.dispatcher, `{"line_items":[{"item_id":"A"}]}`)
	assert.True(t, ack.Handled)
	assert.Nil(t, ack.StockSync)
	assert.False(t, f.cached(t, "shop:en"))
}

func TestDispatch_RedeliveryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)
	f.erp.qty["A"] = 5
	body := `{"event_type":"package.created","data":{"item_id":"A"}}`

	dispatchBody(t, f.dispatcher, body)
	first, err := f.stock.Get(ctx, "A")
	require.NoError(t, err)
	dispatchBody(t, f.dispatcher, body)
	second, err := f.stock.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, first.Quantity, second.Quantity)
	assert.Equal(t, first.Source, second.Source)
}

func TestItemIDs(t *testing.T) {
	data := map[string]any{
		"item_id":    "A",
		"line_items": []any{map[string]any{"item_id": "B"}, "junk", map[string]any{"item_id": 42.0}},
		"items":      []any{map[string]any{"item_id": "A"}, map[string]any{"name": "no id"}},
	}
	assert.Equal(t, []string{"A", "B", "42"}, ItemIDs(data))
	assert.Empty(t, ItemIDs(map[string]any{}))
}

func TestDeduper(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache()
	defer c.Close()

	d := NewDeduper(c, time.Minute)
	seen, err := d.Seen(ctx, []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.False(t, seen)
	seen, err = d.Seen(ctx, []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.True(t, seen)
	seen, err = d.Seen(ctx, []byte(`{"a":2}`))
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, d.Forget(ctx, []byte(`{"a":1}`)))
	seen, err = d.Seen(ctx, []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.False(t, seen, "a forgotten delivery is processed again")

	off := NewDeduper(c, 0)
	for i := 0; i < 2; i++ {
		seen, err = off.Seen(ctx, []byte(`{"a":1}`))
		require.NoError(t, err)
		assert.False(t, seen)
	}
	assert.NoError(t, off.Forget(ctx, []byte(`{"a":1}`)))
	assert.NoError(t, (*Deduper)(nil).Forget(ctx, nil))
}

func TestAck_Failed(t *testing.T) {
	assert.False(t, Ack{}.Failed())
	assert.False(t, Ack{StockSync: &StockSyncAck{Success: true}}.Failed())
	assert.True(t, Ack{StockSync: &StockSyncAck{}}.Failed())
	assert.True(t, Ack{Invalidation: &service.InvalidationReport{
		Tags: []service.TagResult{{Tag: "products", Error: "down"}},
	}}.Failed())
	assert.False(t, Ack{Invalidation: &service.InvalidationReport{
		Tags: []service.TagResult{{Tag: "products"}},
	}}.Failed())
}

func strPtr(s string) *string { return &s }
